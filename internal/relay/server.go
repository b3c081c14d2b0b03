// Package relay is a development room relay. Every frame a client sends is
// stamped with the sender and the relay time and rebroadcast to every
// client in the room, the sender included.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vtt/client/internal/net/proto"
	"vtt/client/internal/telemetry"
	"vtt/client/logging"
	"vtt/client/logging/network"
)

const (
	writeWait = 10 * time.Second
	joinWait  = 10 * time.Second
)

type Config struct {
	Store     SnapshotStore
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

type client struct {
	id       string
	playerID string
	room     string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Server struct {
	store     SnapshotStore
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[string]*client
}

func NewServer(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: make(map[string]map[string]*client),
	}
	if s.logger == nil {
		s.logger = telemetry.WrapLogger(log.Default())
	}
	s.logger = telemetry.WithPrefix(s.logger, "relay: ")
	if s.publisher == nil {
		s.publisher = logging.NopPublisher()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NopMetrics()
	}
	if s.clock == nil {
		s.clock = logging.SystemClock{}
	}
	return s
}

// Handle upgrades the request and serves the connection until it closes.
// The first frame must be a join.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	c := &client{id: uuid.NewString(), conn: conn}
	join, err := s.awaitJoin(c)
	if err != nil {
		s.logger.Printf("rejecting %s: %v", r.RemoteAddr, err)
		s.sendError(c, err.Error())
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join required"))
		return
	}
	c.room = join.Room
	c.playerID = join.PlayerID

	ctx := r.Context()
	s.subscribe(c)
	defer s.unsubscribe(ctx, c)
	network.Connected(ctx, s.publisher, c.room, logging.ClientRef(c.playerID), network.ConnectionPayload{RemoteAddr: r.RemoteAddr})

	if err := s.sendSnapshot(ctx, c); err != nil {
		s.logger.Printf("failed to send snapshot to %s: %v", c.playerID, err)
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(ctx, c, payload)
	}
}

func (s *Server) awaitJoin(c *client) (proto.Join, error) {
	c.conn.SetReadDeadline(time.Now().Add(joinWait))
	defer c.conn.SetReadDeadline(time.Time{})

	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return proto.Join{}, fmt.Errorf("read join: %w", err)
	}
	msg, err := proto.Decode(payload)
	if err != nil {
		return proto.Join{}, err
	}
	join, ok := msg.(*proto.Join)
	if !ok {
		return proto.Join{}, fmt.Errorf("expected %s, got %s", proto.TypeJoin, msg.MessageType())
	}
	if join.Room == "" || join.PlayerID == "" {
		return proto.Join{}, errors.New("join requires room and playerId")
	}
	return *join, nil
}

func (s *Server) subscribe(c *client) {
	s.mu.Lock()
	room, ok := s.rooms[c.room]
	if !ok {
		room = make(map[string]*client)
		s.rooms[c.room] = room
	}
	room[c.id] = c
	total := s.clientCountLocked()
	s.mu.Unlock()
	s.metrics.Store(telemetry.MetricRelayClients, uint64(total))
}

func (s *Server) unsubscribe(ctx context.Context, c *client) {
	network.Disconnected(ctx, s.publisher, c.room, logging.ClientRef(c.playerID), network.ConnectionPayload{})
	s.mu.Lock()
	if room, ok := s.rooms[c.room]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(s.rooms, c.room)
		}
	}
	total := s.clientCountLocked()
	s.mu.Unlock()
	s.metrics.Store(telemetry.MetricRelayClients, uint64(total))
}

func (s *Server) clientCountLocked() int {
	total := 0
	for _, room := range s.rooms {
		total += len(room)
	}
	return total
}

// Clients returns the player ids connected to room, sorted.
func (s *Server) Clients(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms[room]))
	for _, c := range s.rooms[room] {
		out = append(out, c.playerID)
	}
	sort.Strings(out)
	return out
}

func (s *Server) sendSnapshot(ctx context.Context, c *client) error {
	snapshot := proto.Snapshot{Room: c.room, ServerTimestamp: s.clock.Now().UnixMilli()}
	if s.store != nil {
		tokens, err := s.store.Tokens(ctx, c.room)
		if err != nil {
			return err
		}
		snapshot.Tokens = tokens
	}
	data, err := proto.Encode(snapshot)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (s *Server) sendError(c *client, message string) {
	data, err := proto.Encode(proto.Error{Message: message})
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		c.conn.Close()
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, payload []byte) {
	msg, err := proto.Decode(payload)
	if err != nil {
		s.logger.Printf("discarding malformed message from %s: %v", c.playerID, err)
		s.metrics.Add(telemetry.MetricFramesDropped, 1)
		network.FrameDropped(ctx, s.publisher, c.room, logging.ClientRef(c.playerID), network.DropPayload{Reason: err.Error()})
		s.sendError(c, err.Error())
		return
	}

	origin := proto.Origin{PlayerID: c.playerID, ServerTimestamp: s.clock.Now().UnixMilli()}
	var out proto.Message
	switch m := msg.(type) {
	case *proto.TokenMoved:
		m.Origin = origin
		if !m.IsDragging {
			err := s.persist(ctx, c, func(store SnapshotStore) error {
				return store.MoveToken(ctx, c.room, m.TokenID, m.Position)
			})
			if errors.Is(err, ErrTokenNotFound) {
				s.sendError(c, "Token not found")
				return
			}
		}
		out = *m
	case *proto.TokenUpdated:
		m.Origin = origin
		s.persist(ctx, c, func(store SnapshotStore) error {
			return store.UpdateToken(ctx, c.room, m.TokenID, m.StateUpdates)
		})
		out = *m
	case *proto.TokenCreated:
		m.Origin = origin
		token := m.Token
		token.Position = m.Position
		s.persist(ctx, c, func(store SnapshotStore) error {
			return store.SaveToken(ctx, c.room, token)
		})
		out = *m
	case *proto.TokenRemoved:
		m.Origin = origin
		s.persist(ctx, c, func(store SnapshotStore) error {
			return store.RemoveToken(ctx, c.room, m.TokenID)
		})
		out = *m
	default:
		s.logger.Printf("unexpected %s frame from %s", msg.MessageType(), c.playerID)
		s.sendError(c, fmt.Sprintf("unexpected %s frame", msg.MessageType()))
		return
	}

	data, err := proto.Encode(out)
	if err != nil {
		s.logger.Printf("failed to encode %s for room %s: %v", out.MessageType(), c.room, err)
		return
	}
	s.broadcast(c.room, data)
}

// persist applies fn to the snapshot store when one is configured. Misses
// are returned to the caller without logging.
func (s *Server) persist(ctx context.Context, c *client, fn func(SnapshotStore) error) error {
	if s.store == nil {
		return nil
	}
	err := fn(s.store)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		s.logger.Printf("failed to persist frame from %s in room %s: %v", c.playerID, c.room, err)
	}
	return err
}

// broadcast writes data to every client in room. A client whose write
// fails is closed and cleaned up by its own read loop.
func (s *Server) broadcast(room string, data []byte) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.rooms[room]))
	for _, c := range s.rooms[room] {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			s.logger.Printf("dropping %s from room %s: %v", c.playerID, room, err)
			c.conn.Close()
			continue
		}
		s.metrics.Add(telemetry.MetricFramesSent, 1)
	}
}
