// Package pion implements the media engine ports on top of pion/webrtc.
// Each worker is an independent WebRTC API instance pinned to its own UDP
// port range; each router forwards performer RTP to viewer peer connections
// through local static tracks.
package pion

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries engine-wide WebRTC settings shared by all workers.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Engine creates pion-backed workers.
type Engine struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// New creates the engine.
func New(cfg Config, logger *zap.SugaredLogger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// CreateWorker builds a WebRTC API bound to the worker's UDP port range.
func (e *Engine) CreateWorker(ctx context.Context, opts ports.WorkerOptions) (ports.EngineWorker, error) {
	settingEngine := webrtc.SettingEngine{}
	if opts.MinPort > 0 && opts.MaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.MinPort, opts.MaxPort); err != nil {
			return nil, fmt.Errorf("set udp port range %d-%d: %w", opts.MinPort, opts.MaxPort, err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	id := utils.NewWorkerID()
	w := &worker{
		id:     id,
		engine: e,
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingEngine),
			webrtc.WithMediaEngine(mediaEngine),
		),
		logger: e.logger.With("worker_id", id),
	}

	e.logger.Infow("engine worker created",
		"worker_id", w.id,
		"min_port", opts.MinPort,
		"max_port", opts.MaxPort,
	)
	return w, nil
}

type worker struct {
	id     string
	engine *Engine
	api    *webrtc.API
	logger *zap.SugaredLogger

	mu      sync.Mutex
	routers []*router
	onDied  func(error)
	closed  bool
}

func (w *worker) ID() string { return w.id }

func (w *worker) OnDied(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = fn
}

func (w *worker) CreateRouter(ctx context.Context, opts ports.RouterOptions) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %s is closed", w.id)
	}
	r := &router{
		id:      utils.NewRoomID(),
		worker:  w,
		logger:  w.logger,
		sources: make(map[string]*trackSource),
	}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

// fail marks the worker dead and reports it upward. Invoked when the
// in-process media plane hits an unrecoverable error.
func (w *worker) fail(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	fn := w.onDied
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	if fn != nil {
		fn(err)
	}
}

// trackSource is one published track and the local static track it is
// forwarded through, plus the consumers reading from it.
type trackSource struct {
	producer   *producer
	capability webrtc.RTPCodecCapability
	local      *webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	consumers map[string]*consumer
}

type router struct {
	id     string
	worker *worker
	logger *zap.SugaredLogger

	mu         sync.Mutex
	closed     bool
	transports []*transport
	sources    map[string]*trackSource // keyed by producer id
}

func (r *router) ID() string { return r.id }

func (r *router) CreateTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router %s is closed", r.id)
	}
	r.mu.Unlock()

	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   r.worker.engine.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		// A worker that cannot open peer connections anymore is dead; let
		// the pool replace it.
		r.worker.fail(fmt.Errorf("create peer connection: %w", err))
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &transport{
		id:        utils.NewTransportID(),
		router:    r,
		direction: opts.Direction,
		pc:        pc,
		logger:    r.logger,
		producers: make(map[string]*producer),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Infow("transport connection state changed",
			"transport_id", t.id,
			"state", state.String(),
		)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.engineClose()
		}
	})

	if opts.Direction == domain.DirectionSend {
		pc.OnTrack(t.handleIncomingTrack)
	}

	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()

	return t, nil
}

// CanConsume reports whether a consumer with the given capabilities can
// receive the producer's track. Empty capabilities never match.
func (r *router) CanConsume(producerID string, caps ports.ConsumerCapabilities) bool {
	r.mu.Lock()
	source, ok := r.sources[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, mime := range caps.MimeTypes {
		if strings.EqualFold(mime, source.capability.MimeType) {
			return true
		}
	}
	return false
}

func (r *router) source(producerID string) (*trackSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[producerID]
	return s, ok
}

func (r *router) removeSource(producerID string) {
	r.mu.Lock()
	delete(r.sources, producerID)
	r.mu.Unlock()
}

func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := r.transports
	r.transports = nil
	r.sources = make(map[string]*trackSource)
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

type transport struct {
	id        string
	router    *router
	direction domain.TransportDirection
	pc        *webrtc.PeerConnection
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	closed    bool
	connected bool
	onClosed  func()
	producers map[string]*producer
	consumers []*consumer
}

func (t *transport) ID() string { return t.id }

func (t *transport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// Connect completes the client handshake. The DTLS fingerprint is recorded
// for certificate pinning on the media path; the SDP exchange itself rides
// on the negotiation the peer connection already started.
func (t *transport) Connect(ctx context.Context, params ports.TransportConnectParams) error {
	if params.DTLSFingerprint == "" {
		return fmt.Errorf("missing dtls fingerprint")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport %s is closed", t.id)
	}
	if t.connected {
		return fmt.Errorf("transport %s is already connected", t.id)
	}
	t.connected = true

	t.logger.Infow("transport connected",
		"transport_id", t.id,
		"direction", t.direction,
		"dtls_role", params.DTLSRole,
	)
	return nil
}

// Produce registers a published track on a send transport. The actual RTP
// starts flowing when the client's track arrives and handleIncomingTrack
// binds it to the local forwarding track.
func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, params ports.ProducerParams) (ports.Producer, error) {
	if t.direction != domain.DirectionSend {
		return nil, fmt.Errorf("transport %s cannot produce: direction is %s", t.id, t.direction)
	}

	capability := webrtc.RTPCodecCapability{
		MimeType:  params.MimeType,
		ClockRate: params.ClockRate,
		Channels:  params.Channels,
	}
	p := &producer{
		id:        utils.NewProducerID(),
		kind:      kind,
		transport: t,
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, p.id, t.id)
	if err != nil {
		return nil, fmt.Errorf("create forwarding track: %w", err)
	}

	source := &trackSource{
		producer:   p,
		capability: capability,
		local:      local,
		consumers:  make(map[string]*consumer),
	}
	p.source = source

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.sources[p.id] = source
	t.router.mu.Unlock()

	t.logger.Infow("producer registered",
		"transport_id", t.id,
		"producer_id", p.id,
		"kind", kind,
		"mime_type", params.MimeType,
	)
	return p, nil
}

// Consume attaches the producer's forwarding track to a recv transport.
func (t *transport) Consume(ctx context.Context, producerID string, caps ports.ConsumerCapabilities) (ports.Consumer, error) {
	if t.direction != domain.DirectionRecv {
		return nil, fmt.Errorf("transport %s cannot consume: direction is %s", t.id, t.direction)
	}
	source, ok := t.router.source(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s not found on router %s", producerID, t.router.id)
	}

	sender, err := t.pc.AddTrack(source.local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	c := &consumer{
		id:         utils.NewConsumerID(),
		producerID: producerID,
		transport:  t,
		source:     source,
		sender:     sender,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = t.pc.RemoveTrack(sender)
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	source.mu.Lock()
	source.consumers[c.id] = c
	source.mu.Unlock()

	// The sender's RTCP stream carries keyframe requests and loss reports
	// from the viewer.
	go c.readRTCP()

	return c, nil
}

// handleIncomingTrack binds a performer's remote track to the matching
// registered producer and starts the forward loop.
func (t *transport) handleIncomingTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.MediaAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}

	t.mu.Lock()
	var target *producer
	for _, p := range t.producers {
		if p.kind == kind && !p.bound {
			p.bound = true
			target = p
			break
		}
	}
	t.mu.Unlock()

	if target == nil {
		t.logger.Warnw("incoming track has no registered producer",
			"transport_id", t.id,
			"kind", kind,
			"mime_type", remote.Codec().MimeType,
		)
		return
	}

	t.logger.Infow("performer track started",
		"transport_id", t.id,
		"producer_id", target.id,
		"kind", kind,
		"mime_type", remote.Codec().MimeType,
	)

	go t.forwardRTP(target, remote)
	go t.readReceiverRTCP(target, receiver)
}

// forwardRTP copies the performer's RTP into the forwarding track until the
// remote track ends.
func (t *transport) forwardRTP(p *producer, remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.logger.Warnw("error reading performer track",
					"producer_id", p.id,
					"error", err,
				)
			}
			p.engineClose()
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Warnw("dropping malformed rtp packet", "producer_id", p.id, "error", err)
			continue
		}
		if err := p.source.local.WriteRTP(pkt); err != nil && err != io.ErrClosedPipe {
			t.logger.Warnw("error forwarding rtp packet", "producer_id", p.id, "error", err)
		}
	}
}

// readReceiverRTCP drains the receiver's RTCP stream so pion keeps its
// interceptors fed. PLI from downstream is answered with a PLI upstream.
func (t *transport) readReceiverRTCP(p *producer, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				t.logger.Debugw("picture loss reported upstream", "producer_id", p.id)
			}
		}
	}
}

func (t *transport) Close() error {
	return t.close(false)
}

// engineClose is the engine-initiated teardown path; it additionally fires
// the OnClosed callback.
func (t *transport) engineClose() {
	_ = t.close(true)
}

func (t *transport) close(fromEngine bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.producers = make(map[string]*producer)
	consumers := t.consumers
	t.consumers = nil
	fn := t.onClosed
	t.mu.Unlock()

	for _, p := range producers {
		if fromEngine {
			p.engineClose()
		} else {
			_ = p.Close()
		}
	}
	for _, c := range consumers {
		if fromEngine {
			c.engineClose()
		} else {
			_ = c.Close()
		}
	}
	if err := t.pc.Close(); err != nil {
		t.logger.Warnw("error closing peer connection", "transport_id", t.id, "error", err)
	}
	if fromEngine && fn != nil {
		fn()
	}
	return nil
}

type producer struct {
	id        string
	kind      domain.MediaKind
	transport *transport
	source    *trackSource

	// bound is set once an incoming remote track is attached. Guarded by
	// the transport mutex.
	bound bool

	mu       sync.Mutex
	closed   bool
	onClosed func()
}

func (p *producer) ID() string { return p.id }

func (p *producer) Kind() domain.MediaKind { return p.kind }

func (p *producer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

func (p *producer) Close() error {
	p.finish(false)
	return nil
}

func (p *producer) engineClose() {
	p.finish(true)
}

// finish tears the producer down. Consumers of the track are closed from
// the engine side so their owners learn about it.
func (p *producer) finish(fromEngine bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClosed
	p.mu.Unlock()

	p.transport.router.removeSource(p.id)

	p.source.mu.Lock()
	consumers := make([]*consumer, 0, len(p.source.consumers))
	for _, c := range p.source.consumers {
		consumers = append(consumers, c)
	}
	p.source.consumers = make(map[string]*consumer)
	p.source.mu.Unlock()

	for _, c := range consumers {
		c.engineClose()
	}
	if fromEngine && fn != nil {
		fn()
	}
}

type consumer struct {
	id         string
	producerID string
	transport  *transport
	source     *trackSource
	sender     *webrtc.RTPSender

	mu       sync.Mutex
	closed   bool
	onClosed func()
}

func (c *consumer) ID() string { return c.id }

func (c *consumer) ProducerID() string { return c.producerID }

func (c *consumer) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *consumer) Close() error {
	c.finish(false)
	return nil
}

func (c *consumer) engineClose() {
	c.finish(true)
}

func (c *consumer) finish(fromEngine bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()

	c.source.mu.Lock()
	delete(c.source.consumers, c.id)
	c.source.mu.Unlock()

	if err := c.transport.pc.RemoveTrack(c.sender); err != nil {
		c.transport.logger.Debugw("error removing track from viewer connection",
			"consumer_id", c.id,
			"error", err,
		)
	}
	if fromEngine && fn != nil {
		fn()
	}
}

// readRTCP drains the sender's RTCP stream until the sender stops.
func (c *consumer) readRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}
