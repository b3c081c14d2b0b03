package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vtt/client/internal/grid"
	"vtt/client/internal/net/proto"
	"vtt/client/internal/reconcile"
	"vtt/client/internal/relay"
	"vtt/client/internal/telemetry"
	"vtt/client/internal/tokens"
	"vtt/client/logging"
	"vtt/client/logging/network"
	"vtt/client/logging/sinks"
)

type peer struct {
	store   *tokens.Store
	bridge  *Bridge
	metrics *logging.Metrics
	events  *sinks.MemorySink
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func connectPeer(t *testing.T, ctx context.Context, url, player string) peer {
	t.Helper()
	metrics := &logging.Metrics{}
	events := sinks.NewMemorySink()
	bridge, err := Dial(ctx, Config{
		URL:       url,
		Room:      "table",
		PlayerID:  player,
		Publisher: events,
		Metrics:   telemetry.WrapMetrics(metrics),
	})
	if err != nil {
		t.Fatalf("dial %s: %v", player, err)
	}
	t.Cleanup(func() { bridge.Close() })
	store := tokens.NewStore(tokens.Config{
		Bridge:     bridge,
		Reconciler: reconcile.New(reconcile.Config{Window: 5 * time.Second}),
		Publisher:  events,
		Metrics:    telemetry.WrapMetrics(metrics),
	})
	bridge.Attach(store)
	go bridge.Run(ctx)
	return peer{store: store, bridge: bridge, metrics: metrics, events: events}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayRoundTripSuppressesOwnEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := relay.NewServer(relay.Config{})
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(srv.Close)

	alice := connectPeer(t, ctx, wsURL(srv.URL), "alice")
	bob := connectPeer(t, ctx, wsURL(srv.URL), "bob")
	eventually(t, "both clients joined", func() bool { return len(hub.Clients("table")) == 2 })

	creature := tokens.Creature{ID: "orc", Stats: tokens.CreatureStats{Speed: 30, MaxHP: 15}}
	token, err := alice.store.CreateToken(ctx, creature, grid.Point{X: 25, Y: 25})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	eventually(t, "bob to learn about the token", func() bool {
		_, err := bob.store.Token(token.ID)
		return err == nil
	})

	target := grid.Point{X: 75, Y: 25}
	forwarded, err := alice.store.CommitFinalPosition(ctx, token.ID, target)
	if err != nil || !forwarded {
		t.Fatalf("commit: forwarded=%v err=%v", forwarded, err)
	}

	eventually(t, "bob to apply the move", func() bool {
		pos, _ := bob.store.CommittedPosition(token.ID)
		return pos == target
	})
	eventually(t, "alice to suppress her own echo", func() bool {
		return alice.metrics.Snapshot()[telemetry.MetricEchoSuppressed] == 1
	})
	if got := bob.metrics.Snapshot()[telemetry.MetricRemoteApplied]; got != 1 {
		t.Fatalf("expected bob to apply one remote move, got %d", got)
	}
	if pos, _ := alice.store.CommittedPosition(token.ID); pos != target {
		t.Fatalf("alice should keep her committed position, got %v", pos)
	}
	if got := bob.metrics.Snapshot()[telemetry.MetricFramesSent]; got != 1 {
		t.Fatalf("bob must not re-broadcast remote updates, sent %d frames", got)
	}
}

func TestLocalRemovalReachesOtherClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := relay.NewServer(relay.Config{})
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(srv.Close)

	alice := connectPeer(t, ctx, wsURL(srv.URL), "alice")
	bob := connectPeer(t, ctx, wsURL(srv.URL), "bob")
	eventually(t, "both clients joined", func() bool { return len(hub.Clients("table")) == 2 })

	token, err := alice.store.CreateToken(ctx, tokens.Creature{ID: "orc"}, grid.Point{X: 25, Y: 25})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	eventually(t, "bob to learn about the token", func() bool {
		_, err := bob.store.Token(token.ID)
		return err == nil
	})

	if err := alice.store.RemoveToken(ctx, token.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eventually(t, "bob to drop the token", func() bool {
		_, err := bob.store.Token(token.ID)
		return err != nil
	})
	eventually(t, "alice to receive her own removal", func() bool {
		return alice.metrics.Snapshot()[telemetry.MetricFramesReceived] >= 3
	})
	if got := alice.metrics.Snapshot()[telemetry.MetricFramesDropped]; got != 0 {
		t.Fatalf("an echoed removal must not count as a dropped frame, got %d", got)
	}
	if got := bob.metrics.Snapshot()[telemetry.MetricFramesSent]; got != 1 {
		t.Fatalf("bob must not re-broadcast the removal, sent %d frames", got)
	}
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan []byte, 1)
	snapshot, err := proto.Encode(proto.Snapshot{Room: "table", Tokens: []tokens.Token{{ID: "t1", Position: grid.Point{X: 5, Y: 5}}}})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	frames <- snapshot
	close(frames)
	fake := scriptedRelay(t, frames)

	late := connectPeer(t, ctx, wsURL(fake.URL), "late")
	eventually(t, "snapshot applied", func() bool {
		token, err := late.store.Token("t1")
		return err == nil && token.Position == grid.Point{X: 5, Y: 5}
	})
}

// scriptedRelay accepts one connection, consumes the join and writes the
// queued frames.
func scriptedRelay(t *testing.T, frames <-chan []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMalformedFramesAreDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan []byte, 4)
	frames <- []byte(`not json`)
	frames <- []byte(`{"type":"chat_message","payload":{}}`)
	moved, _ := proto.Encode(proto.TokenMoved{TokenID: "missing", Position: grid.Point{X: 1, Y: 1}})
	frames <- moved
	close(frames)
	fake := scriptedRelay(t, frames)

	client := connectPeer(t, ctx, wsURL(fake.URL), "alice")
	eventually(t, "three dropped frames", func() bool {
		return client.metrics.Snapshot()[telemetry.MetricFramesDropped] == 3
	})
	if got := len(client.events.EventsOfType(network.EventFrameDropped)); got != 3 {
		t.Fatalf("expected 3 frame_dropped events, got %d", got)
	}
}

func TestRunStopsWhenContextIsCancelled(t *testing.T) {
	frames := make(chan []byte)
	fake := scriptedRelay(t, frames)
	t.Cleanup(func() { close(frames) })

	ctx, cancel := context.WithCancel(context.Background())
	bridge, err := Dial(ctx, Config{URL: wsURL(fake.URL), Room: "table", PlayerID: "bob"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := bridge.Run(ctx); err != ErrNotAttached {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}
	bridge.Attach(tokens.NewStore(tokens.Config{}))
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := Dial(context.Background(), Config{URL: "ftp://relay"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
