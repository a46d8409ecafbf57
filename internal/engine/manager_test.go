package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
	"bedtime-stories/server/internal/mocks"
)

type memoryCheckpoints struct {
	mu       sync.Mutex
	snaps    map[string]*Snapshot
	archived []*Snapshot
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{snaps: make(map[string]*Snapshot)}
}

func (m *memoryCheckpoints) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memoryCheckpoints) LoadSnapshot(_ context.Context, id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[id], nil
}

func (m *memoryCheckpoints) DeleteSnapshot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memoryCheckpoints) ArchiveStory(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, snap)
	return nil
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	store := newMemoryCheckpoints()
	req := miraRequest()
	req.TargetLengthMinutes = 1
	m := NewManager(newTestDeps(completer, nil), nil, WithCheckpointer(store), WithArchiver(store))

	cp, err := m.Start(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.SessionID)
	assert.Equal(t, StateGenerating, cp.State)
	assert.Nil(t, cp.Latest)
	assert.Equal(t, 1, m.ActiveCount())
	require.Contains(t, store.snaps, cp.SessionID)

	expectSegment(completer, withChoices("Mira", narrative(90)), nil)
	cp, err = m.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, StateConcluding, cp.State)
	require.NotNil(t, cp.Latest)
	assert.Len(t, cp.Latest.Choices, 3)
	assert.Equal(t, StateConcluding, store.snaps[cp.SessionID].State)

	expectSegment(completer, "Goodnight, Mira.", nil)
	cp, err = m.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, cp.State)
	assert.True(t, cp.Latest.Final)
	require.Len(t, store.archived, 1)
	assert.Equal(t, cp.SessionID, store.archived[0].ID)
	assert.Equal(t, 0, m.ActiveCount())

	got, err := m.Get(ctx, cp.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Story.Segments, 2)

	require.NoError(t, m.Close(ctx, cp.SessionID))
	assert.Equal(t, 0, m.ActiveCount())
	assert.NotContains(t, store.snaps, cp.SessionID)
	assert.Len(t, store.archived, 1)

	_, err = m.Get(ctx, cp.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_RestoresFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	store := newMemoryCheckpoints()
	deps := newTestDeps(completer, nil)

	first := NewManager(deps, nil, WithCheckpointer(store))
	cp, err := first.Start(ctx, miraRequest())
	require.NoError(t, err)
	expectSegment(completer, withChoices("Mira", narrative(50)), nil)
	_, err = first.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)

	second := NewManager(deps, nil, WithCheckpointer(store))
	expectSegment(completer, withChoices("Mira", narrative(50)), nil)
	next, err := second.Advance(ctx, cp.SessionID, "Follow the owl")
	require.NoError(t, err)
	assert.Len(t, next.Story.Segments, 2)
	assert.Equal(t, 1, second.ActiveCount())
}

func TestManager_UnknownSession(t *testing.T) {
	m := NewManager(newTestDeps(mocks.NewMockCompleter(t), nil), nil)
	_, err := m.Advance(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), "missing"), ErrSessionNotFound)
}

func TestManager_CloseAbortsRunningSession(t *testing.T) {
	ctx := context.Background()
	store := newMemoryCheckpoints()
	m := NewManager(newTestDeps(mocks.NewMockCompleter(t), nil), nil, WithArchiver(store))

	cp, err := m.Start(ctx, miraRequest())
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, cp.SessionID))
	require.Len(t, store.archived, 1)
	assert.True(t, store.archived[0].Story.Aborted)
}

func TestManager_SaveStory(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	keeper := mocks.NewMockStoryKeeper(t)
	m := NewManager(newTestDeps(completer, nil), keeper)

	cp, err := m.Start(ctx, miraRequest())
	require.NoError(t, err)

	_, err = m.Save(ctx, cp.SessionID, "Owl Night")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	expectSegment(completer, withChoices("Mira", "Mira met an owl."), nil)
	_, err = m.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)

	record := &interfaces.StoryRecord{ID: "rec-1", Title: "Owl Night"}
	keeper.On("Save", mock.Anything, mock.MatchedBy(func(req interfaces.SaveStoryRequest) bool {
		return req.UserID == "user-1" &&
			req.Title == "Owl Night" &&
			req.StoryText == "Mira met an owl." &&
			req.Place == "a moonlit forest" &&
			len(req.IllustrationCues) == 3
	})).Return(record, nil).Once()

	got, err := m.Save(ctx, cp.SessionID, "Owl Night")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	keeper.On("ListTitles", mock.Anything, "user-1").
		Return([]interfaces.StoryListing{{Title: "Owl Night"}}, nil).Once()
	titles, err := m.ListTitles(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, titles, 1)
	keeper.AssertExpectations(t)
}

func TestManager_SaveWithoutStore(t *testing.T) {
	m := NewManager(newTestDeps(mocks.NewMockCompleter(t), nil), nil)
	_, err := m.Save(context.Background(), "any", "title")
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	_, err = m.ListTitles(context.Background(), "user-1")
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
}

// slowCheckpoints blocks LoadSnapshot until release is closed.
type slowCheckpoints struct {
	*memoryCheckpoints
	loading chan struct{}
	release chan struct{}
}

func (s *slowCheckpoints) LoadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	close(s.loading)
	<-s.release
	return s.memoryCheckpoints.LoadSnapshot(ctx, id)
}

func TestManager_SlowCheckpointLoadDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	store := &slowCheckpoints{
		memoryCheckpoints: newMemoryCheckpoints(),
		loading:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	m := NewManager(newTestDeps(mocks.NewMockCompleter(t), nil), nil, WithCheckpointer(store))

	lookupErr := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, "unknown-id")
		lookupErr <- err
	}()
	<-store.loading

	started := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, miraRequest())
		started <- err
	}()
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(store.release)
		t.Fatal("Start waited for an unrelated checkpoint load")
	}
	assert.Equal(t, 1, m.ActiveCount())

	close(store.release)
	assert.ErrorIs(t, <-lookupErr, ErrSessionNotFound)
}

// playToEnd runs a one-minute story through its opening and final segment.
func playToEnd(t *testing.T, m *Manager, completer *mocks.MockCompleter) string {
	t.Helper()
	ctx := context.Background()
	req := miraRequest()
	req.TargetLengthMinutes = 1

	cp, err := m.Start(ctx, req)
	require.NoError(t, err)
	expectSegment(completer, withChoices("Mira", narrative(90)), nil)
	_, err = m.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)
	expectSegment(completer, "Goodnight, Mira.", nil)
	cp, err = m.Advance(ctx, cp.SessionID, "")
	require.NoError(t, err)
	require.Equal(t, StateComplete, cp.State)
	return cp.SessionID
}

func TestManager_ReleasesFinishedSessions(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	keeper := mocks.NewMockStoryKeeper(t)
	store := newMemoryCheckpoints()
	m := NewManager(newTestDeps(completer, nil), keeper, WithCheckpointer(store))

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, playToEnd(t, m, completer))
	}
	assert.Equal(t, 0, m.ActiveCount())

	keeper.On("Save", mock.Anything, mock.MatchedBy(func(req interfaces.SaveStoryRequest) bool {
		return req.Title == "Owl Night" && strings.HasSuffix(req.StoryText, "Goodnight, Mira.")
	})).Return(&interfaces.StoryRecord{Title: "Owl Night"}, nil).Once()
	_, err := m.Save(ctx, ids[0], "Owl Night")
	require.NoError(t, err)
	assert.Equal(t, 0, m.ActiveCount(), "reading a finished session does not keep it in memory")
}

func TestManager_RetainsFinishedSessionsWithoutCheckpointer(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	m := NewManager(newTestDeps(completer, nil), nil, WithRetention(time.Millisecond))

	id := playToEnd(t, m, completer)
	assert.Equal(t, 0, m.ActiveCount())
	_, err := m.Get(ctx, id)
	require.NoError(t, err, "finished sessions stay readable until swept")

	time.Sleep(5 * time.Millisecond)
	_, err = m.Start(ctx, miraRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveCount())

	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func activeSessionsGauge(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "bedtime_sessions_active" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("bedtime_sessions_active not registered")
	return 0
}

func TestManager_RestoredSessionCountsAsActive(t *testing.T) {
	ctx := context.Background()
	completer := mocks.NewMockCompleter(t)
	store := newMemoryCheckpoints()
	deps := newTestDeps(completer, nil)

	first := NewManager(deps, nil, WithCheckpointer(store))
	cp, err := first.Start(ctx, miraRequest())
	require.NoError(t, err)

	baseline := activeSessionsGauge(t)
	second := NewManager(deps, nil, WithCheckpointer(store))
	_, err = second.Get(ctx, cp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, baseline+1, activeSessionsGauge(t))

	require.NoError(t, second.Close(ctx, cp.SessionID))
	assert.Equal(t, baseline, activeSessionsGauge(t))
}
