package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
)

func (f *fixture) dialWS(t *testing.T, topics string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws/events?topics=" + topics
	hdr := http.Header{}
	hdr.Set(APIKeyHeader, testKey)
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.server.ws.Clients() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

// readUntil reads messages until one on topic arrives.
func readUntil(t *testing.T, conn *websocket.Conn, topic string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Topic == topic {
			return msg
		}
	}
}

func TestWebsocket_Events(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t, "events")

	f.apply(t)

	msg := readUntil(t, conn, TopicEvents)
	var ev struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "ruleset.add", ev.Kind)
	assert.Contains(t, string(ev.Data), `"acl-in"`)
}

func TestWebsocket_Txns(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t, "txns")

	f.apply(t)

	msg := readUntil(t, conn, TopicTxns)
	var txn state.Txn
	require.NoError(t, json.Unmarshal(msg.Data, &txn))
	assert.Equal(t, "test", txn.Source)
	assert.True(t, txn.OK())
}

func TestWebsocket_Subscribe(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t, "")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "topics": []string{TopicTxns}}))
	require.Eventually(t, func() bool {
		f.server.ws.mutex.RLock()
		defer f.server.ws.mutex.RUnlock()
		for c := range f.server.ws.clients {
			return c.topics[TopicTxns]
		}
		return false
	}, time.Second, 10*time.Millisecond)

	f.apply(t)
	msg := readUntil(t, conn, TopicTxns)
	assert.Equal(t, TopicTxns, msg.Topic)
}

func TestWebsocket_RequiresKey(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSManager_Close(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t, "events")

	f.server.Close()
	assert.Equal(t, 0, f.server.ws.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSManager_PublishSkipsUnsubscribed(t *testing.T) {
	m, err := NewWSManager(nil, nil, logging.Discard())
	require.NoError(t, err)
	defer m.Close()

	c := &wsClient{topics: map[string]bool{TopicTxns: true}, send: make(chan []byte, 1)}
	m.mutex.Lock()
	m.clients[c] = true
	m.mutex.Unlock()

	m.Publish(TopicEvents, "ignored")
	assert.Empty(t, c.send)

	m.Publish(TopicTxns, "first")
	m.Publish(TopicTxns, "dropped")
	require.Len(t, c.send, 1)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(<-c.send, &msg))
	assert.JSONEq(t, `"first"`, string(msg.Data))

	m.mutex.Lock()
	delete(m.clients, c)
	m.mutex.Unlock()
}

func TestCheckOrigin(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "http://router.lan/api/ws/events", nil)
	r.Host = "router.lan"
	assert.True(t, upgrader.CheckOrigin(r))

	r.Header.Set("Origin", "http://router.lan")
	assert.True(t, upgrader.CheckOrigin(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, upgrader.CheckOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, upgrader.CheckOrigin(r))
}
