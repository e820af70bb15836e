// Package enginetest provides an in-memory fake of the SFU engine contract
// for unit tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
)

var idSeq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idSeq.Add(1))
}

// Engine is a scriptable fake of ports.Engine.
type Engine struct {
	mu        sync.Mutex
	workers   []*Worker
	failNext  int
	failCalls map[int]error
	failErr   error
	callCount int
}

func NewEngine() *Engine {
	return &Engine{failCalls: make(map[int]error)}
}

// FailNext makes the next n CreateWorker calls return err.
func (e *Engine) FailNext(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
	e.failErr = err
}

// FailCall makes the nth CreateWorker call (1-based) return err.
func (e *Engine) FailCall(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCalls[n] = err
}

func (e *Engine) CreateWorker(ctx context.Context, opts ports.WorkerOptions) (ports.EngineWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callCount++
	if err, ok := e.failCalls[e.callCount]; ok {
		return nil, err
	}
	if e.failNext > 0 {
		e.failNext--
		return nil, e.failErr
	}

	w := &Worker{id: nextID("worker"), Opts: opts}
	e.workers = append(e.workers, w)
	return w, nil
}

// Workers returns every worker ever created, dead or alive.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, len(e.workers))
	copy(out, e.workers)
	return out
}

// CreateCalls returns the number of CreateWorker invocations.
func (e *Engine) CreateCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// Worker is a fake ports.EngineWorker.
type Worker struct {
	id   string
	Opts ports.WorkerOptions

	mu        sync.Mutex
	died      func(error)
	closed    bool
	routers   []*Router
	RouterErr error
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, opts ports.RouterOptions) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RouterErr != nil {
		return nil, w.RouterErr
	}
	r := &Router{id: nextID("router"), Opts: opts}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) OnDied(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.died = fn
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Kill simulates a fatal worker crash signalled by the engine.
func (w *Worker) Kill(err error) {
	w.mu.Lock()
	fn := w.died
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Routers returns every router created on this worker.
func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Router, len(w.routers))
	copy(out, w.routers)
	return out
}

// Router is a fake ports.Router.
type Router struct {
	id   string
	Opts ports.RouterOptions

	mu           sync.Mutex
	closed       bool
	transports   []*Transport
	TransportErr error
	// CanConsumeFn overrides capability negotiation; nil means always true.
	CanConsumeFn func(producerID string, caps ports.ConsumerCapabilities) bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) CreateTransport(ctx context.Context, opts ports.TransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	t := &Transport{id: nextID("transport"), Opts: opts}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps ports.ConsumerCapabilities) bool {
	r.mu.Lock()
	fn := r.CanConsumeFn
	r.mu.Unlock()
	if fn != nil {
		return fn(producerID, caps)
	}
	return true
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Transport is a fake ports.Transport.
type Transport struct {
	id   string
	Opts ports.TransportOptions

	mu         sync.Mutex
	closed     bool
	connected  bool
	onClosed   func()
	producers  []*Producer
	consumers  []*Consumer
	ConnectErr error
	ProduceErr error
	ConsumeErr error
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Connect(ctx context.Context, params ports.TransportConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params ports.ProducerParams) (ports.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	p := &Producer{id: nextID("producer"), kind: kind}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps ports.ConsumerCapabilities) (ports.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	c := &Consumer{id: nextID("consumer"), producerID: producerID}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// TriggerClosed simulates the engine tearing the transport down.
func (t *Transport) TriggerClosed() {
	t.mu.Lock()
	t.closed = true
	fn := t.onClosed
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Producer is a fake ports.Producer.
type Producer struct {
	id   string
	kind domain.MediaKind

	mu       sync.Mutex
	closed   bool
	onClosed func()
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// TriggerClosed simulates the engine closing the producer.
func (p *Producer) TriggerClosed() {
	p.mu.Lock()
	p.closed = true
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Consumer is a fake ports.Consumer.
type Consumer struct {
	id         string
	producerID string

	mu       sync.Mutex
	closed   bool
	onClosed func()
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producerID }

func (c *Consumer) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TriggerClosed simulates the engine closing the consumer.
func (c *Consumer) TriggerClosed() {
	c.mu.Lock()
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
