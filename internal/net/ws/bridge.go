// Package ws carries token events between the local token store and a room
// relay over a websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vtt/client/internal/grid"
	"vtt/client/internal/net/proto"
	"vtt/client/internal/telemetry"
	"vtt/client/internal/tokens"
	"vtt/client/logging"
	"vtt/client/logging/network"
)

const defaultWriteTimeout = 5 * time.Second

var ErrNotAttached = errors.New("bridge has no inbound handler")

// Inbound receives frames relayed from other clients. tokens.Store
// satisfies it.
type Inbound interface {
	ApplyRemoteUpdate(ctx context.Context, tokenID string, position grid.Point, at time.Time) (bool, error)
	ApplyRemoteState(tokenID string, update tokens.StateUpdate) (tokens.Token, error)
	ApplyRemoteCreate(token tokens.Token) bool
	ApplyRemoteRemove(tokenID string) error
}

type Config struct {
	URL          string
	Room         string
	PlayerID     string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	Logger       telemetry.Logger
	Publisher    logging.Publisher
	Metrics      telemetry.Metrics
}

// Bridge is the websocket NetworkSyncBridge. Writes are serialised; reads
// happen on the goroutine running Run.
type Bridge struct {
	conn         *websocket.Conn
	room         string
	playerID     string
	writeTimeout time.Duration
	logger       telemetry.Logger
	publisher    logging.Publisher
	metrics      telemetry.Metrics

	writeMu sync.Mutex

	mu      sync.Mutex
	inbound Inbound
}

// Dial connects to the relay and joins the configured room. The relay
// answers the join with a snapshot, which Run applies once attached.
func Dial(ctx context.Context, cfg Config) (*Bridge, error) {
	endpoint, err := roomURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	b := newBridge(conn, cfg)
	if err := b.send(ctx, proto.Join{Room: cfg.Room, PlayerID: cfg.PlayerID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join room %s: %w", cfg.Room, err)
	}
	network.Connected(ctx, b.publisher, b.room, logging.ClientRef(b.playerID), network.ConnectionPayload{RemoteAddr: endpoint})
	return b, nil
}

func newBridge(conn *websocket.Conn, cfg Config) *Bridge {
	b := &Bridge{
		conn:         conn,
		room:         cfg.Room,
		playerID:     cfg.PlayerID,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
	}
	if b.writeTimeout <= 0 {
		b.writeTimeout = defaultWriteTimeout
	}
	if b.logger == nil {
		b.logger = telemetry.WrapLogger(log.Default())
	}
	b.logger = telemetry.WithPrefix(b.logger, "bridge "+cfg.PlayerID+": ")
	if b.publisher == nil {
		b.publisher = logging.NopPublisher()
	}
	if b.metrics == nil {
		b.metrics = telemetry.NopMetrics()
	}
	return b
}

func roomURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("relay url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Attach sets the handler that inbound frames are routed to. The store is
// built with the bridge, so the bridge is attached afterwards.
func (b *Bridge) Attach(in Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = in
}

func (b *Bridge) handler() Inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inbound
}

func (b *Bridge) TokenMoved(ctx context.Context, tokenID string, position grid.Point, isDragging bool) error {
	return b.send(ctx, proto.TokenMoved{TokenID: tokenID, Position: position, IsDragging: isDragging})
}

func (b *Bridge) TokenUpdated(ctx context.Context, tokenID string, update tokens.StateUpdate) error {
	return b.send(ctx, proto.TokenUpdated{TokenID: tokenID, StateUpdates: update})
}

func (b *Bridge) TokenCreated(ctx context.Context, creature tokens.Creature, token tokens.Token) error {
	return b.send(ctx, proto.TokenCreated{Creature: creature, Token: token, Position: token.Position})
}

func (b *Bridge) TokenRemoved(ctx context.Context, tokenID string) error {
	return b.send(ctx, proto.TokenRemoved{TokenID: tokenID})
}

func (b *Bridge) send(ctx context.Context, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(b.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.MessageType(), err)
	}
	b.metrics.Add(telemetry.MetricFramesSent, 1)
	return nil
}

// Run reads frames until the connection closes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.handler() == nil {
		return ErrNotAttached
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.conn.Close()
		case <-stop:
		}
	}()

	for {
		_, payload, err := b.conn.ReadMessage()
		if err != nil {
			network.Disconnected(ctx, b.publisher, b.room, logging.ClientRef(b.playerID), network.ConnectionPayload{Reason: err.Error()})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read relay frame: %w", err)
		}
		b.metrics.Add(telemetry.MetricFramesReceived, 1)
		b.dispatch(ctx, payload)
	}
}

func (b *Bridge) drop(ctx context.Context, frameType string, err error) {
	b.metrics.Add(telemetry.MetricFramesDropped, 1)
	b.logger.Printf("discarding %s frame from relay: %v", frameType, err)
	network.FrameDropped(ctx, b.publisher, b.room, logging.ClientRef(b.playerID), network.DropPayload{
		FrameType: frameType,
		Reason:    err.Error(),
	})
}

func (b *Bridge) dispatch(ctx context.Context, payload []byte) {
	env, err := proto.DecodeEnvelope(payload)
	if err != nil {
		b.drop(ctx, "", err)
		return
	}
	msg, err := proto.DecodePayload(env)
	if err != nil {
		b.drop(ctx, env.Type, err)
		return
	}
	in := b.handler()

	switch m := msg.(type) {
	case *proto.TokenMoved:
		if m.IsDragging {
			return
		}
		// The relay clock is not comparable with the local echo markers, so
		// remote moves are judged at arrival time.
		if _, err := in.ApplyRemoteUpdate(ctx, m.TokenID, m.Position, time.Time{}); err != nil {
			b.drop(ctx, env.Type, err)
		}
	case *proto.TokenUpdated:
		if _, err := in.ApplyRemoteState(m.TokenID, m.StateUpdates); err != nil {
			b.drop(ctx, env.Type, err)
		}
	case *proto.TokenCreated:
		token := m.Token
		if token.ID == "" {
			b.drop(ctx, env.Type, errors.New("missing token id"))
			return
		}
		token.Position = m.Position
		in.ApplyRemoteCreate(token)
	case *proto.TokenRemoved:
		if err := in.ApplyRemoteRemove(m.TokenID); err != nil && !errors.Is(err, tokens.ErrTokenNotFound) {
			b.drop(ctx, env.Type, err)
		}
	case *proto.Snapshot:
		b.applySnapshot(ctx, m)
	case *proto.Error:
		b.logger.Printf("relay error: %s", m.Message)
	default:
		b.drop(ctx, env.Type, fmt.Errorf("%w: not accepted by client", proto.ErrUnknownType))
	}
}

func (b *Bridge) applySnapshot(ctx context.Context, snapshot *proto.Snapshot) {
	in := b.handler()
	for _, token := range snapshot.Tokens {
		if in.ApplyRemoteCreate(token) {
			continue
		}
		if _, err := in.ApplyRemoteUpdate(ctx, token.ID, token.Position, time.Time{}); err != nil {
			b.drop(ctx, proto.TypeSnapshot, err)
		}
	}
}

// Close sends a normal closure and releases the connection.
func (b *Bridge) Close() error {
	b.writeMu.Lock()
	b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	return b.conn.Close()
}

var _ tokens.NetworkSyncBridge = (*Bridge)(nil)
