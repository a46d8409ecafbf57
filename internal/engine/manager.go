package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("story session not found")

// Checkpointer persists session snapshots between requests.
// LoadSnapshot returns nil, nil when no snapshot exists.
type Checkpointer interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, id string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Archiver records finished sessions.
type Archiver interface {
	ArchiveStory(ctx context.Context, snap *Snapshot) error
}

// Checkpoint is what callers see after each step of a session.
type Checkpoint struct {
	SessionID string     `json:"session_id"`
	State     State      `json:"state"`
	Story     StoryState `json:"story"`
	Latest    *Segment   `json:"latest,omitempty"`
}

func newCheckpoint(id string, state State, story StoryState) *Checkpoint {
	cp := &Checkpoint{SessionID: id, State: state, Story: story}
	if n := len(story.Segments); n > 0 {
		latest := story.Segments[n-1]
		cp.Latest = &latest
	}
	return cp
}

// Manager owns the live sessions of the server.
type Manager struct {
	deps         Dependencies
	keeper       interfaces.StoryKeeper
	checkpointer Checkpointer
	archiver     Archiver
	log          *zap.Logger
	retention    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	finished map[string]time.Time
}

// DefaultRetention is how long a finished session stays in memory when no
// checkpointer holds it.
const DefaultRetention = 30 * time.Minute

// ManagerOption configures optional collaborators.
type ManagerOption func(*Manager)

// WithCheckpointer stores a snapshot after every step.
func WithCheckpointer(c Checkpointer) ManagerOption {
	return func(m *Manager) { m.checkpointer = c }
}

// WithArchiver records sessions once they end.
func WithArchiver(a Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

// WithRetention sets how long finished sessions stay in memory without a
// checkpointer.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// NewManager creates a session manager. keeper may be nil, in which case
// saving and listing stories are unavailable.
func NewManager(deps Dependencies, keeper interfaces.StoryKeeper, opts ...ManagerOption) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil && keeper != nil {
		deps.Resolver = keeper
	}
	m := &Manager{
		deps:      deps,
		keeper:    keeper,
		log:       deps.Logger,
		retention: DefaultRetention,
		sessions:  make(map[string]*Session),
		finished:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new session. The opening segment is produced by the first
// call to Advance.
func (m *Manager) Start(ctx context.Context, req interfaces.UserStoryRequest) (*Checkpoint, error) {
	id := uuid.NewString()
	session, err := NewSession(ctx, id, req, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sweepLocked(time.Now())
	m.sessions[id] = session
	m.mu.Unlock()

	snap := session.Snapshot()
	metrics.SessionsStarted.WithLabelValues(snap.Kind).Inc()
	metrics.ActiveSessions.Inc()
	m.persist(ctx, snap)

	return newCheckpoint(id, snap.State, snap.Story), nil
}

// Advance feeds input to a session and returns the resulting checkpoint.
// On error the returned checkpoint reflects the unchanged session.
func (m *Manager) Advance(ctx context.Context, id, input string) (*Checkpoint, error) {
	session, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	before := session.State()
	story, advanceErr := session.Advance(ctx, input)
	after := session.State()
	cp := newCheckpoint(id, after, story)
	if advanceErr != nil {
		return cp, advanceErr
	}

	snap := session.Snapshot()
	m.persist(ctx, snap)
	if after.Terminal() && !before.Terminal() {
		m.finish(ctx, snap)
	}
	return cp, nil
}

// Get returns the current checkpoint of a session.
func (m *Manager) Get(ctx context.Context, id string) (*Checkpoint, error) {
	session, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := session.Snapshot()
	return newCheckpoint(id, snap.State, snap.Story), nil
}

// Close aborts a session if it is still running and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	session, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	before := session.State()
	session.Abort()
	if !before.Terminal() {
		m.finish(ctx, session.Snapshot())
	}

	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.finished, id)
	m.mu.Unlock()

	if m.checkpointer != nil {
		if err := m.checkpointer.DeleteSnapshot(ctx, id); err != nil {
			m.log.Warn("Failed to delete session checkpoint", zap.String("session_id", id), zap.Error(err))
		}
	}
	return nil
}

// Save stores the story of a session under title for later continuation.
func (m *Manager) Save(ctx context.Context, id, title string) (*interfaces.StoryRecord, error) {
	if m.keeper == nil {
		return nil, fmt.Errorf("%w: no story store configured", interfaces.ErrStoreUnavailable)
	}
	session, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	req := session.Request()
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required to save a story", interfaces.ErrValidation)
	}
	story := session.Story()
	if len(story.Segments) == 0 {
		return nil, fmt.Errorf("%w: story has no segments yet", interfaces.ErrValidation)
	}

	return m.keeper.Save(ctx, interfaces.SaveStoryRequest{
		UserID:              req.UserID,
		Name:                req.Name,
		Title:               title,
		Place:               req.Place,
		StoryText:           FullText(story.Segments),
		IllustrationCues:    req.IllustrationCues,
		Tone:                req.Tone,
		Moral:               req.Moral,
		TargetLengthMinutes: req.TargetLengthMinutes,
		TargetAge:           req.TargetAge,
	})
}

// ListTitles returns the saved stories of a user.
func (m *Manager) ListTitles(ctx context.Context, userID string) ([]interfaces.StoryListing, error) {
	if m.keeper == nil {
		return nil, fmt.Errorf("%w: no story store configured", interfaces.ErrStoreUnavailable)
	}
	return m.keeper.ListTitles(ctx, userID)
}

// ActiveCount returns the number of unfinished sessions held in memory.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions) - len(m.finished)
}

// lookup returns the live session for id, restoring it from its checkpoint
// when it is not in memory. The snapshot is loaded without holding m.mu.
// Finished sessions are restored for reading but not kept.
func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return session, nil
	}
	if m.checkpointer == nil {
		return nil, ErrSessionNotFound
	}

	snap, err := m.checkpointer.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}

	restored := RestoreSession(snap, m.deps)
	if snap.State.Terminal() {
		return restored, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = restored
	metrics.ActiveSessions.Inc()
	m.log.Info("Story session restored from checkpoint",
		zap.String("session_id", id),
		zap.String("state", string(snap.State)))
	return restored, nil
}

func (m *Manager) persist(ctx context.Context, snap *Snapshot) {
	if m.checkpointer == nil {
		return
	}
	if err := m.checkpointer.SaveSnapshot(ctx, snap); err != nil {
		m.log.Warn("Failed to checkpoint session", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

func (m *Manager) finish(ctx context.Context, snap *Snapshot) {
	outcome := "complete"
	if snap.Story.Aborted {
		outcome = "aborted"
	}
	metrics.SessionsFinished.WithLabelValues(outcome).Inc()
	metrics.ActiveSessions.Dec()
	m.release(snap.ID)

	if m.archiver == nil {
		return
	}
	if err := m.archiver.ArchiveStory(ctx, snap); err != nil {
		m.log.Error("Failed to archive story", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

// release drops a finished session from memory. With a checkpointer the
// snapshot stays readable through lookup; without one the session is kept
// for the retention period so it can still be saved.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpointer != nil {
		delete(m.sessions, id)
		return
	}
	if _, ok := m.sessions[id]; ok {
		m.finished[id] = time.Now()
	}
}

// sweepLocked forgets finished sessions older than the retention period.
func (m *Manager) sweepLocked(now time.Time) {
	for id, at := range m.finished {
		if now.Sub(at) >= m.retention {
			delete(m.sessions, id)
			delete(m.finished, id)
		}
	}
}
