package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"telegram-sink/internal/state"
	"telegram-sink/internal/topology"
)

// ErrSubscriberClosed is returned by a Subscriber whose transport is gone.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is one live stream connection. Send and TryRecvFilter must
// return by the context deadline.
type Subscriber interface {
	Send(ctx context.Context, msg []byte) error
	// TryRecvFilter returns the newest filter received since the last
	// call, or nil when there is none.
	TryRecvFilter(ctx context.Context) (*Filter, error)
	// Close may be called more than once.
	Close() error
}

// Metrics receives pool events. All methods must be safe for concurrent use.
type Metrics interface {
	SubscribersSet(n int)
	SubscriberEvicted(reason string)
	BroadcastSent()
	BroadcastObserve(d time.Duration)
}

type Options struct {
	WriteTimeout time.Duration // default 1s
	ReadTimeout  time.Duration // default 1s
	Metrics      Metrics
}

// Handle is a subscriber's registration in the pool.
type Handle struct {
	id     uint64
	sub    Subscriber
	filter atomic.Pointer[Filter]
	dead   atomic.Bool
	reason atomic.Value // string
}

func (h *Handle) ID() uint64 { return h.id }

// Filter returns the active filter; nil means match-all.
func (h *Handle) Filter() *Filter { return h.filter.Load() }

// SetFilter replaces the active filter.
func (h *Handle) SetFilter(f *Filter) { h.filter.Store(f) }

func (h *Handle) Dead() bool { return h.dead.Load() }

func (h *Handle) markDead(reason string, err error) {
	if h.dead.CompareAndSwap(false, true) {
		h.reason.Store(reason)
		log.Printf("broadcast: subscriber %d dead (%s): %v", h.id, reason, err)
	}
}

// Pool is the set of live subscribers. The pool lock guards only the
// subscriber list; subscriber I/O never runs under it.
type Pool struct {
	mu     sync.Mutex
	subs   []*Handle
	nextID uint64

	writeTimeout time.Duration
	readTimeout  time.Duration
	metrics      Metrics
}

func NewPool(opts Options) *Pool {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	return &Pool{
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		metrics:      opts.Metrics,
	}
}

// Connect registers sub with a match-all filter.
func (p *Pool) Connect(sub Subscriber) *Handle {
	p.mu.Lock()
	p.nextID++
	h := &Handle{id: p.nextID, sub: sub}
	p.subs = append(p.subs, h)
	n := len(p.subs)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SubscribersSet(n)
	}
	return h
}

// Len returns the number of registered subscribers, dead or alive.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Publish sends report to every subscriber whose filter fits it, in
// registration order, then polls each subscriber for a filter update.
// Subscribers that fail or time out are evicted once the pass is complete.
// It returns the number of subscribers the message was delivered to.
func (p *Pool) Publish(report state.VehicleReport, meta topology.PointMeta) int {
	start := time.Now()
	msg, err := json.Marshal(Message{VehicleReport: report, PointMeta: meta})
	if err != nil {
		log.Printf("broadcast: marshal report line=%d run=%d: %v", report.Line, report.RunNumber, err)
		return 0
	}

	p.mu.Lock()
	subs := append([]*Handle(nil), p.subs...)
	p.mu.Unlock()

	sent := 0
	for _, h := range subs {
		if h.Dead() {
			continue
		}
		if h.Filter().Fits(&report) {
			if err := p.send(h, msg); err != nil {
				h.markDead("write", err)
				continue
			}
			sent++
			if p.metrics != nil {
				p.metrics.BroadcastSent()
			}
		}
		if err := p.pollFilter(h); err != nil {
			h.markDead("read", err)
		}
	}

	p.prune()
	if p.metrics != nil {
		p.metrics.BroadcastObserve(time.Since(start))
	}
	return sent
}

func (p *Pool) send(h *Handle, msg []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	return h.sub.Send(ctx, msg)
}

func (p *Pool) pollFilter(h *Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.readTimeout)
	defer cancel()
	f, err := h.sub.TryRecvFilter(ctx)
	if err != nil {
		return err
	}
	if f != nil {
		h.SetFilter(f)
	}
	return nil
}

// Remove evicts h regardless of its state.
func (p *Pool) Remove(h *Handle) {
	h.markDead("closed", ErrSubscriberClosed)
	p.prune()
}

// prune drops dead subscribers and closes them outside the pool lock.
func (p *Pool) prune() {
	p.mu.Lock()
	var dead []*Handle
	kept := p.subs[:0]
	for _, h := range p.subs {
		if h.Dead() {
			dead = append(dead, h)
			continue
		}
		kept = append(kept, h)
	}
	clear(p.subs[len(kept):])
	p.subs = kept
	n := len(kept)
	p.mu.Unlock()

	if len(dead) == 0 {
		return
	}
	for _, h := range dead {
		_ = h.sub.Close()
		if p.metrics != nil {
			reason, _ := h.reason.Load().(string)
			p.metrics.SubscriberEvicted(reason)
		}
	}
	if p.metrics != nil {
		p.metrics.SubscribersSet(n)
	}
}

// Close evicts and closes every subscriber.
func (p *Pool) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, h := range subs {
		h.dead.Store(true)
		_ = h.sub.Close()
	}
	if p.metrics != nil {
		p.metrics.SubscribersSet(0)
	}
}
