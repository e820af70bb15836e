// Package signal is the WebSocket signaling frontend. It authenticates
// connections, applies admission limits, and translates client messages into
// room registry operations.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"tipcast/internal/auth"
	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/internal/gate"
	"tipcast/internal/rooms"
	"tipcast/internal/viewercount"
	apperrors "tipcast/pkg/errors"
	"tipcast/pkg/tracing"
	"tipcast/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config tunes connection keepalive and the signaling-boundary validation
// limits.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MaxTipAmount      int64
	MaxChatMessageLen int
	EngineCallTimeout time.Duration
}

// client is one authenticated WebSocket connection.
type client struct {
	connID   domain.ConnID
	userID   domain.UserID
	username string
	conn     *websocket.Conn

	writeMu sync.Mutex

	// mu guards room membership.
	mu     sync.Mutex
	roomID domain.RoomID
	role   domain.Role
}

func (c *client) room() (domain.RoomID, domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.role
}

func (c *client) setRoom(roomID domain.RoomID, role domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.role = role
}

func (c *client) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = ""
	c.role = ""
}

// Gateway terminates signaling connections and fans server events back out.
// It implements ports.Broadcaster.
type Gateway struct {
	cfg      Config
	registry *rooms.Registry
	gate     *gate.Gate
	verifier auth.TokenVerifier
	streams  ports.StreamStore
	events   ports.EventSink
	viewers  *viewercount.Aggregator
	logger   *zap.SugaredLogger
	metrics  Metrics

	mu      sync.RWMutex
	clients map[domain.ConnID]*client
	groups  map[domain.RoomID]map[domain.ConnID]struct{}
}

// NewGateway wires the signaling frontend.
func NewGateway(
	cfg Config,
	registry *rooms.Registry,
	gt *gate.Gate,
	verifier auth.TokenVerifier,
	streams ports.StreamStore,
	events ports.EventSink,
	viewers *viewercount.Aggregator,
	logger *zap.SugaredLogger,
) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		gate:     gt,
		verifier: verifier,
		streams:  streams,
		events:   events,
		viewers:  viewers,
		logger:   logger,
		metrics:  nopMetrics{},
		clients:  make(map[domain.ConnID]*client),
		groups:   make(map[domain.RoomID]map[domain.ConnID]struct{}),
	}
}

// Metrics receives gateway counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordGateRejection(scope string)
	RecordSignalMessage(msgType string)
	RecordTip(amount int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordConnectionOpened() {}

func (nopMetrics) RecordConnectionClosed() {}

func (nopMetrics) RecordGateRejection(string) {}

func (nopMetrics) RecordSignalMessage(string) {}

func (nopMetrics) RecordTip(int64) {}

// SetMetrics installs a metrics collector. Call before serving traffic.
func (g *Gateway) SetMetrics(m Metrics) {
	if m != nil {
		g.metrics = m
	}
}

// engineCtx bounds one engine-touching operation.
func (g *Gateway) engineCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.cfg.EngineCallTimeout)
}

// HandleWebSocket upgrades an authenticated request into a signaling
// session. Admission limits are checked before the upgrade so rejected
// clients cost no socket state.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := g.verifier.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ip := clientIP(r)
	if err := g.gate.AdmitConnection(ip, string(claims.UserID)); err != nil {
		g.metrics.RecordGateRejection("connection")
		g.logger.Warnw("connection rejected by gate",
			"ip", ip,
			"user_id", claims.UserID,
			"error", err,
		)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		connID:   domain.ConnID(utils.NewConnectionID()),
		userID:   claims.UserID,
		username: claims.Username,
		conn:     conn,
	}

	g.mu.Lock()
	g.clients[c.connID] = c
	g.mu.Unlock()
	g.metrics.RecordConnectionOpened()

	g.logger.Infow("client connected",
		"conn_id", c.connID,
		"user_id", c.userID,
		"ip", ip,
	)

	g.serve(c)

	g.cleanup(c)
	g.logger.Infow("client disconnected", "conn_id", c.connID, "user_id", c.userID)
}

// serve runs the session loop until the connection drops.
func (g *Gateway) serve(c *client) {
	if g.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(g.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan InboundMessage, 10)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go g.readLoop(c, messageChan, errorChan, done)

	for {
		select {
		case msg := <-messageChan:
			if err := g.handleMessage(c, msg); err != nil {
				g.logger.Infow("error handling message",
					"conn_id", c.connID,
					"type", msg.Type,
					"error", err,
				)
				g.sendError(c, err)
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				g.logger.Infow("error sending ping", "conn_id", c.connID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Infow("error reading message", "conn_id", c.connID, "error", err)
			}
			return
		}
	}
}

// readLoop pumps inbound messages into messageChan until the connection
// drops or done closes. The done guard keeps the pump from blocking forever
// on a full channel after serve has returned.
func (g *Gateway) readLoop(c *client, messageChan chan<- InboundMessage, errorChan chan<- error, done <-chan struct{}) {
	for {
		var msg InboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			errorChan <- err
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		select {
		case messageChan <- msg:
		case <-done:
			return
		}
	}
}

// cleanup tears the client's room membership down after the socket is gone.
func (g *Gateway) cleanup(c *client) {
	g.leaveRoom(c)

	g.mu.Lock()
	delete(g.clients, c.connID)
	g.mu.Unlock()
	g.metrics.RecordConnectionClosed()
}

func (g *Gateway) handleMessage(c *client, msg InboundMessage) error {
	if msg.Type == "" {
		return apperrors.NewValidationError("message type is required")
	}
	if err := g.gate.AdmitMessage(string(c.userID)); err != nil {
		g.metrics.RecordGateRejection("message")
		return err
	}
	g.metrics.RecordSignalMessage(msg.Type)

	_, span := tracing.TraceSignalMessage(context.Background(), msg.Type, string(c.connID))
	defer span.End()

	switch msg.Type {
	case TypeJoinStream:
		return g.handleJoinStream(c, msg.Payload)
	case TypeLeaveStream:
		g.leaveRoom(c)
		return nil
	case TypeCreateTransport:
		return g.handleCreateTransport(c, msg.Payload)
	case TypeConnectTransport:
		return g.handleConnectTransport(c, msg.Payload)
	case TypeCreateProducer:
		return g.handleCreateProducer(c, msg.Payload)
	case TypeCreateConsumer:
		return g.handleCreateConsumer(c, msg.Payload)
	case TypeSendTip:
		return g.handleSendTip(c, msg.Payload)
	case TypeSendMessage:
		return g.handleSendMessage(c, msg.Payload)
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (g *Gateway) handleJoinStream(c *client, raw json.RawMessage) error {
	var payload JoinStreamPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid join_stream payload")
	}
	if payload.StreamID == "" {
		return apperrors.NewValidationError("stream_id is required")
	}
	if roomID, _ := c.room(); roomID != "" {
		return apperrors.NewValidationError("already joined a stream; leave it first")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	stream, err := g.streams.GetStream(ctx, payload.StreamID)
	if err != nil {
		return apperrors.NewNotFoundError("stream")
	}
	if !stream.Live {
		return apperrors.NewValidationError("stream is not live")
	}

	role := domain.RoleViewer
	if stream.HostUserID == c.userID {
		role = domain.RolePerformer
	}

	roomID := domain.RoomID(stream.ID)
	room, err := g.registry.CreateOrGet(ctx, roomID, stream.ID)
	if err != nil {
		return err
	}
	if _, err := g.registry.AddParticipant(roomID, c.connID, c.userID, role); err != nil {
		return err
	}

	c.setRoom(roomID, role)
	g.mu.Lock()
	members, ok := g.groups[roomID]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		g.groups[roomID] = members
	}
	members[c.connID] = struct{}{}
	g.mu.Unlock()

	if role == domain.RoleViewer {
		g.viewers.Add(stream.ID, 1)
	}

	g.ToRoomExcept(roomID, c.connID, OutboundMessage{
		Type: TypeUserJoined,
		Payload: UserJoinedPayload{
			UserID:   c.userID,
			Username: c.username,
			Role:     role,
		},
	})

	if role == domain.RolePerformer {
		g.ToRoomExcept(roomID, c.connID, OutboundMessage{
			Type:    TypeStreamStarted,
			Payload: StreamStartedPayload{StreamID: stream.ID},
		})
	}

	g.send(c, OutboundMessage{
		Type: TypeJoined,
		Payload: JoinedPayload{
			RoomID:    roomID,
			StreamID:  stream.ID,
			Role:      role,
			Producers: g.existingProducers(room),
		},
	})
	return nil
}

// existingProducers lists the room's live producers for a joining client.
func (g *Gateway) existingProducers(room *rooms.Room) []ProducerInfo {
	producers := make([]ProducerInfo, 0)
	for _, session := range room.Sessions() {
		for _, p := range session.Producers() {
			producers = append(producers, ProducerInfo{
				ProducerID: domain.ProducerID(p.ID()),
				UserID:     session.UserID(),
				Kind:       p.Kind(),
			})
		}
	}
	return producers
}

// leaveRoom removes the client from its room, if any, and notifies the rest
// of the room. Safe to call twice.
func (g *Gateway) leaveRoom(c *client) {
	roomID, role := c.room()
	if roomID == "" {
		return
	}
	c.clearRoom()

	g.mu.Lock()
	if members, ok := g.groups[roomID]; ok {
		delete(members, c.connID)
		if len(members) == 0 {
			delete(g.groups, roomID)
		}
	}
	g.mu.Unlock()

	room := g.registry.Room(roomID)
	if err := g.registry.RemoveParticipant(roomID, c.connID); err != nil {
		if apperrors.CodeOf(err) != apperrors.ErrCodeNotFound {
			g.logger.Warnw("error removing participant",
				"room_id", roomID,
				"conn_id", c.connID,
				"error", err,
			)
		}
	}

	if role == domain.RoleViewer && room != nil {
		g.viewers.Add(room.StreamID(), -1)
	}

	g.ToRoom(roomID, OutboundMessage{
		Type:    TypeUserLeft,
		Payload: UserLeftPayload{UserID: c.userID},
	})

	if role == domain.RolePerformer && room != nil {
		g.ToRoom(roomID, OutboundMessage{
			Type: TypeStreamEnded,
			Payload: StreamEndedPayload{
				StreamID: room.StreamID(),
				Reason:   "performer left",
			},
		})
	}
}

func (g *Gateway) handleCreateTransport(c *client, raw json.RawMessage) error {
	var payload CreateTransportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid create_transport payload")
	}
	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	transport, err := g.registry.CreateTransport(ctx, roomID, c.connID, payload.Direction)
	if err != nil {
		return err
	}

	g.send(c, OutboundMessage{
		Type: TypeTransportCreated,
		Payload: TransportCreatedPayload{
			TransportID: transport.ID(),
			Direction:   payload.Direction,
		},
	})
	return nil
}

func (g *Gateway) handleConnectTransport(c *client, raw json.RawMessage) error {
	var payload ConnectTransportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid connect_transport payload")
	}
	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	err := g.registry.ConnectTransport(ctx, roomID, c.connID, payload.Direction, ports.TransportConnectParams{
		DTLSFingerprint: payload.DTLSFingerprint,
		DTLSRole:        payload.DTLSRole,
	})
	if err != nil {
		return err
	}

	g.send(c, OutboundMessage{
		Type:    TypeTransportConnected,
		Payload: TransportConnectedPayload{Direction: payload.Direction},
	})
	return nil
}

func (g *Gateway) handleCreateProducer(c *client, raw json.RawMessage) error {
	var payload CreateProducerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid create_producer payload")
	}
	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	producer, err := g.registry.CreateProducer(ctx, roomID, c.connID, payload.Kind, ports.ProducerParams{
		MimeType:  payload.MimeType,
		ClockRate: payload.ClockRate,
		Channels:  payload.Channels,
	})
	if err != nil {
		return err
	}

	producerID := domain.ProducerID(producer.ID())
	g.send(c, OutboundMessage{
		Type: TypeProducerCreated,
		Payload: ProducerCreatedPayload{
			ProducerID: producerID,
			Kind:       payload.Kind,
		},
	})
	g.ToRoomExcept(roomID, c.connID, OutboundMessage{
		Type: TypeNewProducer,
		Payload: NewProducerPayload{
			ProducerID: producerID,
			UserID:     c.userID,
			Kind:       payload.Kind,
		},
	})
	return nil
}

func (g *Gateway) handleCreateConsumer(c *client, raw json.RawMessage) error {
	var payload CreateConsumerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid create_consumer payload")
	}
	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	consumer, err := g.registry.CreateConsumer(ctx, roomID, c.connID, payload.ProducerID, ports.ConsumerCapabilities{
		MimeTypes: payload.MimeTypes,
	})
	if err != nil {
		return err
	}

	g.send(c, OutboundMessage{
		Type: TypeConsumerCreated,
		Payload: ConsumerCreatedPayload{
			ConsumerID: domain.ConsumerID(consumer.ID()),
			ProducerID: payload.ProducerID,
		},
	})
	return nil
}

func (g *Gateway) handleSendTip(c *client, raw json.RawMessage) error {
	var payload SendTipPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid send_tip payload")
	}
	if payload.Amount < 1 {
		return apperrors.NewValidationError("tip amount must be at least 1")
	}
	if payload.Amount > g.cfg.MaxTipAmount {
		return apperrors.NewValidationError(
			fmt.Sprintf("tip amount exceeds the maximum of %d", g.cfg.MaxTipAmount))
	}

	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}
	room := g.registry.Room(roomID)
	if room == nil {
		return apperrors.NewNotFoundError("room")
	}

	ctx, cancel := g.engineCtx()
	defer cancel()

	stream, err := g.streams.GetStream(ctx, room.StreamID())
	if err != nil {
		return apperrors.NewNotFoundError("stream")
	}

	tip := domain.Tip{
		ID:         utils.NewTipID(),
		StreamID:   room.StreamID(),
		FromUserID: c.userID,
		ToUserID:   stream.HostUserID,
		Amount:     payload.Amount,
		Message:    payload.Message,
		CreatedAt:  time.Now(),
	}
	if err := g.events.RecordTip(ctx, tip); err != nil {
		g.logger.Errorw("failed to record tip",
			"tip_id", tip.ID,
			"stream_id", tip.StreamID,
			"error", err,
		)
		return apperrors.NewInternalError("tip could not be processed")
	}
	g.metrics.RecordTip(tip.Amount)

	g.ToRoom(roomID, OutboundMessage{
		Type: TypeTipReceived,
		Payload: TipReceivedPayload{
			TipID:      tip.ID,
			StreamID:   tip.StreamID,
			FromUserID: tip.FromUserID,
			Amount:     tip.Amount,
			Message:    tip.Message,
			CreatedAt:  tip.CreatedAt,
		},
	})
	return nil
}

func (g *Gateway) handleSendMessage(c *client, raw json.RawMessage) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperrors.NewValidationError("invalid send_message payload")
	}
	if payload.Text == "" {
		return apperrors.NewValidationError("message text is required")
	}
	if len(payload.Text) > g.cfg.MaxChatMessageLen {
		return apperrors.NewValidationError(
			fmt.Sprintf("message exceeds the maximum length of %d", g.cfg.MaxChatMessageLen))
	}

	roomID, _ := c.room()
	if roomID == "" {
		return apperrors.NewValidationError("join a stream first")
	}
	room := g.registry.Room(roomID)
	if room == nil {
		return apperrors.NewNotFoundError("room")
	}

	msg := domain.ChatMessage{
		StreamID:   room.StreamID(),
		FromUserID: c.userID,
		Text:       payload.Text,
		CreatedAt:  time.Now(),
	}

	ctx, cancel := g.engineCtx()
	defer cancel()
	if err := g.events.RecordChat(ctx, msg); err != nil {
		// Chat history is best effort; the room still sees the message.
		g.logger.Warnw("failed to record chat message",
			"stream_id", msg.StreamID,
			"error", err,
		)
	}

	g.ToRoom(roomID, OutboundMessage{
		Type: TypeMessageReceived,
		Payload: MessageReceivedPayload{
			StreamID:   msg.StreamID,
			FromUserID: msg.FromUserID,
			Username:   c.username,
			Text:       msg.Text,
			CreatedAt:  msg.CreatedAt,
		},
	})
	return nil
}

// NotifyProducerClosed pushes an engine-side producer closure to the room.
func (g *Gateway) NotifyProducerClosed(roomID domain.RoomID, _ domain.StreamID, producerID domain.ProducerID) {
	g.ToRoom(roomID, OutboundMessage{
		Type:    TypeProducerClosed,
		Payload: ProducerClosedPayload{ProducerID: producerID},
	})
}

// NotifyConsumerClosed pushes an engine-side consumer closure to its owner.
func (g *Gateway) NotifyConsumerClosed(_ domain.RoomID, _ domain.StreamID, connID domain.ConnID, consumerID domain.ConsumerID) {
	g.ToConn(connID, OutboundMessage{
		Type:    TypeConsumerClosed,
		Payload: ConsumerClosedPayload{ConsumerID: consumerID},
	})
}

// EndStream tells every member of a terminated room that the stream is over
// and clears their membership. Clients are expected to rejoin, which builds
// the room fresh on a live worker. Viewer deltas recorded at join are
// reversed here, since the eventual disconnect carries no room.
func (g *Gateway) EndStream(roomID domain.RoomID, streamID domain.StreamID, reason string) {
	g.ToRoom(roomID, OutboundMessage{
		Type: TypeStreamEnded,
		Payload: StreamEndedPayload{
			StreamID: streamID,
			Reason:   reason,
		},
	})

	g.mu.Lock()
	members := g.groups[roomID]
	delete(g.groups, roomID)
	var affected []*client
	for connID := range members {
		if c, ok := g.clients[connID]; ok {
			affected = append(affected, c)
		}
	}
	g.mu.Unlock()

	for _, c := range affected {
		_, role := c.room()
		if role == domain.RoleViewer {
			g.viewers.Add(streamID, -1)
		}
		c.clearRoom()
	}
}

// ConnectionCount reports the number of live signaling connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// ToConn implements ports.Broadcaster.
func (g *Gateway) ToConn(connID domain.ConnID, event interface{}) {
	g.mu.RLock()
	c, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.send(c, event)
}

// ToRoom implements ports.Broadcaster.
func (g *Gateway) ToRoom(roomID domain.RoomID, event interface{}) {
	g.ToRoomExcept(roomID, "", event)
}

// ToRoomExcept implements ports.Broadcaster.
func (g *Gateway) ToRoomExcept(roomID domain.RoomID, skip domain.ConnID, event interface{}) {
	g.mu.RLock()
	members := g.groups[roomID]
	targets := make([]*client, 0, len(members))
	for connID := range members {
		if connID == skip {
			continue
		}
		if c, ok := g.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.send(c, event)
	}
}

func (g *Gateway) send(c *client, event interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(event); err != nil {
		g.logger.Debugw("error writing to client", "conn_id", c.connID, "error", err)
	}
}

func (g *Gateway) sendError(c *client, err error) {
	g.send(c, OutboundMessage{
		Type: TypeError,
		Payload: ErrorPayload{
			Code:    string(apperrors.CodeOf(err)),
			Message: err.Error(),
		},
	})
}

// clientIP extracts the caller's address, honoring a forwarding proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
