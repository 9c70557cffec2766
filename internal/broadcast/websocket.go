package broadcast

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig tunes websocket subscribers.
type WSConfig struct {
	WriteTimeout time.Duration // default for sends without a deadline, 1s
	PongWait     time.Duration // default 60s
	PingPeriod   time.Duration // default 30s; must be below PongWait
	MaxFilterLen int64         // default 4096 bytes
}

func (c WSConfig) withDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait / 2
	}
	if c.MaxFilterLen <= 0 {
		c.MaxFilterLen = 4096
	}
	return c
}

// WSSubscriber adapts a websocket connection to Subscriber. Inbound frames
// are read by a dedicated goroutine so TryRecvFilter never blocks.
type WSSubscriber struct {
	conn *websocket.Conn
	cfg  WSConfig

	writeMu sync.Mutex
	filters chan *Filter

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewWSSubscriber starts the read and keepalive loops for conn.
func NewWSSubscriber(conn *websocket.Conn, cfg WSConfig) *WSSubscriber {
	s := &WSSubscriber{
		conn:    conn,
		cfg:     cfg.withDefaults(),
		filters: make(chan *Filter, 1),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s
}

// Done is closed once the connection is gone.
func (s *WSSubscriber) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the connection, if any.
func (s *WSSubscriber) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *WSSubscriber) Send(ctx context.Context, msg []byte) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.WriteTimeout)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		s.fail(err)
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *WSSubscriber) TryRecvFilter(context.Context) (*Filter, error) {
	select {
	case f := <-s.filters:
		return f, nil
	default:
	}
	select {
	case <-s.done:
		return nil, ErrSubscriberClosed
	default:
		return nil, nil
	}
}

func (s *WSSubscriber) Close() error {
	s.fail(nil)
	return nil
}

func (s *WSSubscriber) fail(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
		_ = s.conn.Close()
	})
}

func (s *WSSubscriber) readLoop() {
	s.conn.SetReadLimit(s.cfg.MaxFilterLen)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.fail(err)
			} else {
				s.fail(nil)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		f, err := ParseFilter(data)
		if err != nil {
			log.Printf("broadcast: ignoring filter from %s: %v", s.conn.RemoteAddr(), err)
			continue
		}
		s.offer(f)
	}
}

// offer keeps only the newest filter.
func (s *WSSubscriber) offer(f *Filter) {
	for {
		select {
		case s.filters <- f:
			return
		default:
		}
		select {
		case <-s.filters:
		default:
		}
	}
}

func (s *WSSubscriber) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.fail(err)
				}
				return
			}
		}
	}
}

// Handler upgrades HTTP requests to websocket subscribers of a pool.
type Handler struct {
	pool     *Pool
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewHandler(pool *Pool, cfg WSConfig) *Handler {
	return &Handler{
		pool: pool,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Stream clients are public dashboards on arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broadcast: upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	sub := NewWSSubscriber(conn, h.cfg)
	handle := h.pool.Connect(sub)
	log.Printf("broadcast: subscriber %d connected from %s", handle.ID(), r.RemoteAddr)

	<-sub.Done()
	h.pool.Remove(handle)
	if err := sub.Err(); err != nil {
		log.Printf("broadcast: subscriber %d disconnected: %v", handle.ID(), err)
	} else {
		log.Printf("broadcast: subscriber %d disconnected", handle.ID())
	}
}
