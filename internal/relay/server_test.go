package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtt/client/internal/grid"
	"vtt/client/internal/net/proto"
	"vtt/client/internal/tokens"
	"vtt/client/logging"
	"vtt/client/logging/network"
	"vtt/client/logging/sinks"
)

var fixedNow = time.UnixMilli(1700000000000)

func startRelay(t *testing.T, store SnapshotStore) (*Server, string, *sinks.MemorySink) {
	t.Helper()
	events := sinks.NewMemorySink()
	relay := NewServer(Config{
		Store:     store,
		Publisher: events,
		Clock:     logging.ClockFunc(func() time.Time { return fixedNow }),
	})
	srv := httptest.NewServer(http.HandlerFunc(relay.Handle))
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http"), events
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg proto.Message) {
	t.Helper()
	data, err := proto.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) proto.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := proto.Decode(data)
	require.NoError(t, err)
	return msg
}

func join(t *testing.T, url, room, player string) (*websocket.Conn, *proto.Snapshot) {
	t.Helper()
	conn := dial(t, url)
	send(t, conn, proto.Join{Room: room, PlayerID: player})
	snapshot, ok := receive(t, conn).(*proto.Snapshot)
	require.True(t, ok, "expected snapshot after join")
	return conn, snapshot
}

func waitForClients(t *testing.T, relay *Server, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(relay.Clients(room)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients in %s, got %v", n, room, relay.Clients(room))
}

func TestRelayRebroadcastsToWholeRoomIncludingSender(t *testing.T) {
	relay, url, _ := startRelay(t, nil)
	alice, _ := join(t, url, "table", "alice")
	bob, _ := join(t, url, "table", "bob")
	outsider, _ := join(t, url, "elsewhere", "carol")
	waitForClients(t, relay, "table", 2)

	send(t, alice, proto.TokenMoved{TokenID: "t1", Position: grid.Point{X: 75, Y: 25}})

	for _, conn := range []*websocket.Conn{alice, bob} {
		moved, ok := receive(t, conn).(*proto.TokenMoved)
		require.True(t, ok)
		assert.Equal(t, "t1", moved.TokenID)
		assert.Equal(t, "alice", moved.PlayerID)
		assert.Equal(t, fixedNow.UnixMilli(), moved.ServerTimestamp)
	}

	require.NoError(t, outsider.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := outsider.ReadMessage()
	assert.Error(t, err, "other rooms must not receive the move")
}

func TestRelaySnapshotReflectsCommittedMoves(t *testing.T) {
	store := openTestStore(t)
	relay, url, _ := startRelay(t, store)
	alice, snapshot := join(t, url, "table", "alice")
	assert.Empty(t, snapshot.Tokens)
	waitForClients(t, relay, "table", 1)

	token := tokens.Token{ID: "t1", CreatureID: "orc"}
	send(t, alice, proto.TokenCreated{Token: token, Position: grid.Point{X: 25, Y: 25}})
	receive(t, alice)
	send(t, alice, proto.TokenMoved{TokenID: "t1", Position: grid.Point{X: 125, Y: 25}})
	receive(t, alice)
	send(t, alice, proto.TokenMoved{TokenID: "t1", Position: grid.Point{X: 999, Y: 999}, IsDragging: true})
	receive(t, alice)

	_, late := join(t, url, "table", "bob")
	require.Len(t, late.Tokens, 1)
	assert.Equal(t, grid.Point{X: 125, Y: 25}, late.Tokens[0].Position)
	assert.Equal(t, "table", late.Room)

	stored, err := store.Tokens(context.Background(), "table")
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRelayAnswersMalformedFramesWithError(t *testing.T) {
	relay, url, events := startRelay(t, nil)
	alice, _ := join(t, url, "table", "alice")
	waitForClients(t, relay, "table", 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	errMsg, ok := receive(t, alice).(*proto.Error)
	require.True(t, ok)
	assert.Contains(t, errMsg.Message, "unknown message type")
	assert.Len(t, events.EventsOfType(network.EventFrameDropped), 1)

	send(t, alice, proto.Join{Room: "table", PlayerID: "alice"})
	_, ok = receive(t, alice).(*proto.Error)
	assert.True(t, ok, "a second join is rejected")
}

func TestRelayRequiresJoinFirst(t *testing.T) {
	relay, url, _ := startRelay(t, nil)
	conn := dial(t, url)
	send(t, conn, proto.TokenMoved{TokenID: "t1"})

	errMsg, ok := receive(t, conn).(*proto.Error)
	require.True(t, ok)
	assert.Contains(t, errMsg.Message, proto.TypeJoin)
	assert.Empty(t, relay.Clients(""))
}

func TestRelayForgetsClosedClients(t *testing.T) {
	relay, url, events := startRelay(t, nil)
	alice, _ := join(t, url, "table", "alice")
	waitForClients(t, relay, "table", 1)

	alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	alice.Close()
	waitForClients(t, relay, "table", 0)
	assert.Len(t, events.EventsOfType(network.EventDisconnected), 1)
}

func TestRelayRejectsMovesForUnknownTokens(t *testing.T) {
	store := openTestStore(t)
	relay, url, _ := startRelay(t, store)
	alice, _ := join(t, url, "table", "alice")
	bob, _ := join(t, url, "table", "bob")
	waitForClients(t, relay, "table", 2)

	send(t, alice, proto.TokenMoved{TokenID: "ghost", Position: grid.Point{X: 75, Y: 25}})
	errMsg, ok := receive(t, alice).(*proto.Error)
	require.True(t, ok, "sender is told the token is unknown")
	assert.Equal(t, "Token not found", errMsg.Message)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "a move for an unknown token must not be rebroadcast")
}
