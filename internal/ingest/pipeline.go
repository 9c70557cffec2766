package ingest

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"telegram-sink/internal/broadcast"
	"telegram-sink/internal/state"
	"telegram-sink/internal/telegram"
	"telegram-sink/internal/topology"
)

// Outcome labels reported to Metrics.TelegramResult.
const (
	ResultOK            = "ok"
	ResultDecodeError   = "decode_error"
	ResultStatusError   = "status_error"
	ResultUnknownRegion = "unknown_region"
	ResultMalformed     = "malformed"
)

type PointLookup interface {
	Point(region, point int) topology.PointMeta
}

type Broadcaster interface {
	Publish(report state.VehicleReport, meta topology.PointMeta) int
}

// Republisher forwards enriched reports to a secondary sink.
type Republisher interface {
	Publish(region int, line, run uint32, v any) error
}

type Metrics interface {
	TelegramResult(result string)
	EdgeSample(stored bool)
	PendingEvicted(n int)
	IngestObserve(d time.Duration)
	VehiclesTracked(region, n int)
}

type Config struct {
	Store        *state.Store
	Points       PointLookup
	Pool         Broadcaster
	Republisher  Republisher // optional
	Metrics      Metrics     // optional
	LogTelegrams bool
}

// Pipeline applies one telegram to the region state and fans the resulting
// report out. Telegrams of one region are processed one at a time, so
// subscribers see a region's reports in update order; the region's state
// lock is released before any subscriber I/O.
type Pipeline struct {
	store        *state.Store
	points       PointLookup
	pool         Broadcaster
	republish    Republisher
	metrics      Metrics
	logTelegrams bool

	sections map[int]*sync.Mutex
}

func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:        cfg.Store,
		points:       cfg.Points,
		pool:         cfg.Pool,
		republish:    cfg.Republisher,
		metrics:      cfg.Metrics,
		logTelegrams: cfg.LogTelegrams,
		sections:     make(map[int]*sync.Mutex),
	}
	for _, id := range cfg.Store.Regions() {
		p.sections[id] = &sync.Mutex{}
	}
	return p
}

// Ingest processes one telegram. Errors are per-report: the telegram is
// dropped and the pipeline stays usable.
func (p *Pipeline) Ingest(t *telegram.Telegram) (state.VehicleReport, error) {
	start := time.Now()
	section, ok := p.sections[t.Region]
	if !ok {
		p.result(ResultUnknownRegion)
		return state.VehicleReport{}, fmt.Errorf("region %d: %w", t.Region, state.ErrUnknownRegion)
	}
	section.Lock()
	defer section.Unlock()

	var res state.UpdateResult
	var vehicles int
	err := p.store.WithRegionWrite(t.Region, func(r *state.RegionState) error {
		var err error
		res, err = r.Update(t)
		vehicles = r.VehicleCount()
		return err
	})
	if err != nil {
		p.result(classify(err))
		log.Printf("ingest: drop telegram region=%d point=%d: %v", t.Region, t.ReportingPoint, err)
		return state.VehicleReport{}, err
	}
	p.result(ResultOK)
	if p.metrics != nil {
		if res.Matched {
			p.metrics.EdgeSample(res.Stored)
		}
		if res.Evicted > 0 {
			p.metrics.PendingEvicted(res.Evicted)
		}
		p.metrics.VehiclesTracked(t.Region, vehicles)
	}

	report := res.Report
	if p.logTelegrams {
		log.Printf("ingest: region=%d line=%d run=%d point=%d dir=%d matched=%v", report.Region, report.Line, report.RunNumber, report.ReportingPoint, report.Direction, res.Matched)
	}

	meta := p.points.Point(report.Region, report.ReportingPoint)
	p.pool.Publish(report, meta)
	if p.republish != nil {
		msg := broadcast.Message{VehicleReport: report, PointMeta: meta}
		if err := p.republish.Publish(report.Region, report.Line, report.RunNumber, msg); err != nil {
			log.Printf("ingest: republish line=%d run=%d: %v", report.Line, report.RunNumber, err)
		}
	}

	if p.metrics != nil {
		p.metrics.IngestObserve(time.Since(start))
	}
	return report, nil
}

func (p *Pipeline) result(r string) {
	if p.metrics != nil {
		p.metrics.TelegramResult(r)
	}
}

func classify(err error) string {
	var de *telegram.DecodeError
	var se *telegram.StatusDecodeError
	switch {
	case errors.As(err, &de):
		return ResultDecodeError
	case errors.As(err, &se):
		return ResultStatusError
	case errors.Is(err, state.ErrUnknownRegion):
		return ResultUnknownRegion
	default:
		return ResultMalformed
	}
}
