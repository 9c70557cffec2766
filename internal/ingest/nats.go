package ingest

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"telegram-sink/internal/state"
	"telegram-sink/internal/telegram"
)

type Ingester interface {
	Ingest(t *telegram.Telegram) (state.VehicleReport, error)
}

// Reply acknowledges one telegram to a requesting sender.
type Reply struct {
	Status int    `json:"status"` // 0 accepted, 1 dropped
	Error  string `json:"error,omitempty"`
}

// Server receives JSON telegrams on a NATS subject. Senders using request
// semantics get a Reply; plain publishes are processed without one.
type Server struct {
	nc       *nats.Conn
	subject  string
	queue    string
	ingester Ingester
	metrics  Metrics

	sub *nats.Subscription
}

func NewServer(nc *nats.Conn, subject, queue string, ing Ingester, m Metrics) *Server {
	return &Server{nc: nc, subject: subject, queue: queue, ingester: ing, metrics: m}
}

func (s *Server) Start() error {
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	// A publish pass can stall for one subscriber write deadline per
	// slow subscriber. The pending buffer has to absorb that.
	if err := sub.SetPendingLimits(1<<16, 64<<20); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("pending limits: %w", err)
	}
	s.sub = sub
	log.Printf("ingest: listening on %s (queue %q)", s.subject, s.queue)
	return nil
}

// Drain stops receiving and waits for in-flight telegrams to finish.
func (s *Server) Drain() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Server) handle(msg *nats.Msg) {
	reply := s.HandleMessage(msg.Data)
	if msg.Reply == "" {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		log.Printf("ingest: marshal reply: %v", err)
		return
	}
	if err := msg.Respond(b); err != nil {
		log.Printf("ingest: respond: %v", err)
	}
}

// HandleMessage decodes and ingests one telegram payload.
func (s *Server) HandleMessage(data []byte) Reply {
	var t telegram.Telegram
	if err := json.Unmarshal(data, &t); err != nil {
		if s.metrics != nil {
			s.metrics.TelegramResult(ResultMalformed)
		}
		log.Printf("ingest: malformed telegram: %v", err)
		return Reply{Status: 1, Error: "malformed telegram: " + err.Error()}
	}
	if _, err := s.ingester.Ingest(&t); err != nil {
		return Reply{Status: 1, Error: err.Error()}
	}
	return Reply{Status: 0}
}
