package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AdvanceRequest carries the reader's decision.
type AdvanceRequest struct {
	Choice string `json:"choice"`
}

// SaveRequest names a story being saved. An empty title uses the default.
type SaveRequest struct {
	Title string `json:"title"`
}

// SessionView is a checkpoint plus the number of play clients following it.
type SessionView struct {
	*engine.Checkpoint
	ActiveClients int `json:"active_clients"`
}

// StartSession opens a story session. The opening segment comes from the
// first advance.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req interfaces.UserStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cp, err := h.manager.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

// AdvanceSession feeds a choice (or the exit signal) to a session.
func (h *Handlers) AdvanceSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AdvanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cp, err := h.advance(r, id, req.Choice)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// GetSession returns the current checkpoint of a session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cp, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := SessionView{Checkpoint: cp}
	if h.hub != nil {
		view.ActiveClients = h.hub.ClientCount(id)
	}
	writeJSON(w, http.StatusOK, view)
}

// CloseSession aborts a running session and forgets it.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Close(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "state": string(engine.StateAborted)})
}

// SaveStory summarizes the session's story and stores it for continuation.
func (h *Handlers) SaveStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.manager.Save(r.Context(), id, req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// ListTitles returns the saved stories of a user.
func (h *Handlers) ListTitles(w http.ResponseWriter, r *http.Request) {
	listings, err := h.manager.ListTitles(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// ListSessions returns the ids of a user's checkpointed sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeMessage(w, http.StatusServiceUnavailable, "session checkpoints are not configured")
		return
	}
	ids, err := h.sessions.RecentSessions(r.Context(), chi.URLParam(r, "user_id"), int64(queryInt(r, "limit", 10)))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// ListArchive returns a user's finished sessions without their segments.
func (h *Handlers) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeMessage(w, http.StatusServiceUnavailable, "story archive is not configured")
		return
	}
	stories, err := h.archive.ListStories(r.Context(), chi.URLParam(r, "user_id"), queryInt(r, "limit", 20))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

// GetArchived returns one finished session with its segments and decisions.
func (h *Handlers) GetArchived(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeMessage(w, http.StatusServiceUnavailable, "story archive is not configured")
		return
	}
	story, err := h.archive.GetStory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

// Play upgrades to a websocket that streams the session's checkpoints and
// accepts {"choice": "..."} messages.
func (h *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "play streaming is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	cp, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), id, conn, h.hub)
	client.push(&PlayEvent{Type: EventCheckpoint, Checkpoint: cp})
	if !h.hub.add(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		client.close()
		return
	}

	client.readPump(h.log, func(c *Client, input playInput) {
		if _, err := h.advance(r, id, input.Choice); err != nil {
			c.push(&PlayEvent{Type: EventError, Error: err.Error()})
		}
	})
}

// advance runs one step and fans the checkpoint out to play clients.
func (h *Handlers) advance(r *http.Request, id, choice string) (*engine.Checkpoint, error) {
	cp, err := h.manager.Advance(r.Context(), id, choice)
	if err != nil {
		return cp, err
	}
	if h.hub != nil {
		h.hub.Broadcast(id, &PlayEvent{Type: EventCheckpoint, Checkpoint: cp})
	}
	return cp, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
