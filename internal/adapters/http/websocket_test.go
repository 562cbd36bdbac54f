package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/concord"
	concordhttp "github.com/aretw0/concord/internal/adapters/http"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_SyncRoundTrip(t *testing.T) {
	ts, eng := newTestServer(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx, "s1", domain.SharedState{})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/s1/ws?userId=u1&username=Ada"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var joined domain.Event
	require.NoError(t, conn.ReadJSON(&joined))
	assert.Equal(t, domain.EventParticipantJoined, joined.Type)
	require.NotNil(t, joined.Participant)
	assert.Equal(t, "u1", joined.Participant.UserID)

	require.NoError(t, conn.WriteJSON(concordhttp.ClientMessage{
		Type: concordhttp.MessageSync,
		Updates: []domain.StateUpdate{
			{Type: domain.ParameterChange, UserID: "u1", Timestamp: 1, Data: domain.Fields{"min": 5}},
		},
	}))

	// The commit event and the ack may arrive in either order.
	seen := map[string]json.RawMessage{}
	for len(seen) < 2 {
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		var typ string
		require.NoError(t, json.Unmarshal(msg["type"], &typ))
		seen[typ] = msg["result"]
	}
	require.Contains(t, seen, string(domain.EventStateSynced))
	require.Contains(t, seen, "ack")

	var res struct {
		Success           bool               `json:"success"`
		SynchronizedState domain.SharedState `json:"synchronizedState"`
	}
	require.NoError(t, json.Unmarshal(seen["ack"], &res))
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, res.SynchronizedState.Version)

	require.NoError(t, conn.WriteJSON(concordhttp.ClientMessage{Type: "bogus"}))
	var reply concordhttp.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Error, "bogus")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		ps, err := eng.GetActiveParticipants(ctx, "s1")
		return err == nil && len(ps) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWebSocket_LeavesOnLastConnection(t *testing.T) {
	streams := concordhttp.NewStreamManager(nil)
	eng := concord.New(nil, concord.WithPublisher(streams))
	ts := httptest.NewServer(concordhttp.NewServer(eng, streams, nil).Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	_, err := eng.CreateSession(ctx, "s1", domain.SharedState{})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/s1/ws?userId=u1"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, 2, streams.Connections("s1", "u1"))

	closeConn := func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	}

	closeConn(first)
	require.Eventually(t, func() bool {
		return streams.Connections("s1", "u1") == 1
	}, 5*time.Second, 20*time.Millisecond)

	ps, err := eng.GetActiveParticipants(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, ps, 1, "still connected through the second socket")
	assert.Equal(t, "u1", ps[0].UserID)

	closeConn(second)
	assert.Eventually(t, func() bool {
		ps, err := eng.GetActiveParticipants(ctx, "s1")
		return err == nil && len(ps) == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, streams.Connections("s1", "u1"))
}

func TestStreamManager_ConnectionCount(t *testing.T) {
	sm := concordhttp.NewStreamManager(nil)
	var leaves int
	leave := func() { leaves++ }

	require.NoError(t, sm.Connect("s1", "u1", func() error { return nil }))
	require.NoError(t, sm.Connect("s1", "u1", func() error { return nil }))
	err := sm.Connect("s1", "u1", func() error { return domain.ErrSessionNotFound })
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 2, sm.Connections("s1", "u1"))
	assert.Zero(t, sm.Connections("s1", "u2"))

	sm.Disconnect("s1", "u1", leave)
	assert.Zero(t, leaves)
	sm.Disconnect("s1", "u1", leave)
	assert.Equal(t, 1, leaves)
	assert.Zero(t, sm.Connections("s1", "u1"))
}

func TestWebSocket_Rejects(t *testing.T) {
	ts, _ := newTestServer(t)
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/sessions/missing/ws?userId=u1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"/sessions/missing/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamManager_DropsForSlowSubscriber(t *testing.T) {
	sm := concordhttp.NewStreamManager(nil)
	ch, cancel := sm.Subscribe("s1")
	assert.Equal(t, 1, sm.Subscribers("s1"))

	for i := 0; i < 100; i++ {
		sm.Publish(domain.Event{Type: domain.EventStateSynced, SessionID: "s1", Version: int64(i)})
	}
	assert.Len(t, ch, cap(ch))

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("s1"))
	for range ch {
	}
}
