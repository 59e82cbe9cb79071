package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(buildID string) *Client {
	return &Client{buildID: buildID, send: make(chan []byte, 4)}
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BroadcastReachesOnlyMatchingBuild(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Shutdown()

	watcherA := newTestClient("build-a")
	watcherB := newTestClient("build-b")
	h.register <- watcherA
	h.register <- watcherB
	time.Sleep(10 * time.Millisecond)

	h.Broadcast("build-a", "status", map[string]string{"package": "widgets"})

	msg := recv(t, watcherA.send)
	var decoded Message
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "build-a", decoded.BuildID)
	assert.Equal(t, "status", decoded.Type)

	select {
	case <-watcherB.send:
		t.Fatal("watcher on a different build should not receive the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastAllReachesEveryClient(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Shutdown()

	watcherA := newTestClient("build-a")
	watcherB := newTestClient("build-b")
	h.register <- watcherA
	h.register <- watcherB
	time.Sleep(10 * time.Millisecond)

	h.BroadcastAll("status", map[string]string{"package": "widgets"})

	recv(t, watcherA.send)
	recv(t, watcherB.send)
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Shutdown()

	watcher := newTestClient("build-a")
	h.register <- watcher
	h.unregister <- watcher

	select {
	case _, open := <-watcher.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was never closed")
	}
}

func TestHub_ShutdownClosesAllClients(t *testing.T) {
	h := NewHub()
	go h.Run()

	watcher := newTestClient("build-a")
	h.register <- watcher
	time.Sleep(10 * time.Millisecond)

	h.Shutdown()

	select {
	case _, open := <-watcher.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was never closed on shutdown")
	}
}
