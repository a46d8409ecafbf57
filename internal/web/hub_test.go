package web

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/mocks"
)

func TestHub_ClientCallsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := newClient("c1", "s1", nil, hub)
	hub.mu.Lock()
	hub.clients["s1"] = map[string]*Client{client.ID: client}
	hub.mu.Unlock()

	cancel()
	<-stopped

	select {
	case <-client.done:
	default:
		t.Fatal("client was not stopped by the hub")
	}
	assert.Equal(t, 0, hub.ClientCount("s1"))

	assert.NotPanics(t, func() {
		for i := 0; i < sendBuffer+4; i++ {
			client.push(&PlayEvent{Type: EventError, Error: "late"})
		}
	})

	left := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.unregister)+4; i++ {
			client.leave()
		}
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}

	assert.False(t, hub.add(newClient("c2", "s1", nil, hub)))
}

func TestHub_ShutdownClosesPlayConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	h := newTestHandlers(t, mocks.NewMockCompleter(t), nil)
	h.hub = hub
	router := NewRouter(h)
	id := startSession(t, router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + id + "/play"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var event PlayEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, 1, hub.ClientCount(id))

	cancel()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	assert.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
}
