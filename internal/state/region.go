package state

import (
	"time"

	"telegram-sink/internal/telegram"
)

// VehicleReport is the latest known state of one vehicle.
type VehicleReport struct {
	Region            int                    `json:"region"`
	Line              uint32                 `json:"line"`
	RunNumber         uint32                 `json:"run_number"`
	ReportingPoint    int                    `json:"reporting_point"`
	Direction         uint32                 `json:"direction"`
	TimeStamp         uint64                 `json:"time_stamp"`
	Delayed           int32                  `json:"delayed"`
	RequestStatus     telegram.RequestStatus `json:"request_status"`
	DestinationNumber *uint32                `json:"destination_number,omitempty"`
	TrainLength       *uint32                `json:"train_length,omitempty"`
	LastUpdate        time.Time              `json:"last_update"`
}

// EdgeKey identifies the outbound edge of a point in one direction.
type EdgeKey struct {
	Point     int
	Direction uint32
}

// TravelTime is the latest observed traversal of an edge.
type TravelTime struct {
	HistoricalTime uint64 `json:"historical_time"` // seconds
	Destination    int    `json:"destination"`
}

// Options bounds the residency of unmatched pending reports.
type Options struct {
	// PendingMaxAge drops pending reports whose LastUpdate is older. Zero
	// disables the age sweep.
	PendingMaxAge time.Duration
	// PendingMaxDepth caps each point's pending queue, dropping the oldest.
	// Zero disables the cap.
	PendingMaxDepth int
	// SweepInterval is the minimum wall-clock gap between age sweeps.
	SweepInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// UpdateResult describes what one Update did besides producing the report.
type UpdateResult struct {
	Report VehicleReport
	// Matched is set when a pending predecessor was found and consumed.
	Matched bool
	// Edge and Sample are valid when a travel-time sample was stored.
	Edge    EdgeKey
	Sample  uint64
	Stored  bool
	Evicted int
}

// RegionState is the live model of one region. It is not safe for
// concurrent use; Store serializes access.
type RegionState struct {
	id      int
	graph   *PointGraph
	opts    Options
	current map[uint32]map[uint32]VehicleReport
	pending map[int][]VehicleReport
	edges   map[EdgeKey]uint64

	lastSweep time.Time
}

func NewRegionState(id int, graph *PointGraph, opts Options) *RegionState {
	opts = opts.withDefaults()
	return &RegionState{
		id:        id,
		graph:     graph,
		opts:      opts,
		current:   make(map[uint32]map[uint32]VehicleReport),
		pending:   make(map[int][]VehicleReport),
		edges:     make(map[EdgeKey]uint64),
		lastSweep: opts.Now(),
	}
}

func (r *RegionState) ID() int            { return r.id }
func (r *RegionState) Graph() *PointGraph { return r.graph }

// Update ingests one telegram. On a decode error nothing is mutated.
//
// The predecessor of the report is the first pending report for the same
// line and run found at an upstream point, scanning upstream points in
// ascending order and each point's queue oldest first. This greedy match is
// an approximation: when one run is pending at several upstream points the
// choice is arbitrary.
func (r *RegionState) Update(t *telegram.Telegram) (UpdateResult, error) {
	report, err := r.decode(t)
	if err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{Report: report}
	res.Evicted = r.sweep(report.LastUpdate)

	if pred, ok := r.takePredecessor(report); ok {
		res.Matched = true
		res.Edge = EdgeKey{Point: pred.ReportingPoint, Direction: pred.Direction}
		// Out-of-order delivery: the sample is discarded, the match stands.
		if report.TimeStamp >= pred.TimeStamp {
			res.Sample = report.TimeStamp - pred.TimeStamp
			res.Stored = true
			r.edges[res.Edge] = res.Sample
		}
	}

	res.Evicted += r.park(report)

	runs, ok := r.current[report.Line]
	if !ok {
		runs = make(map[uint32]VehicleReport)
		r.current[report.Line] = runs
	}
	runs[report.RunNumber] = report
	return res, nil
}

func (r *RegionState) decode(t *telegram.Telegram) (VehicleReport, error) {
	switch {
	case t.Line == nil:
		return VehicleReport{}, &telegram.DecodeError{Field: "line"}
	case t.RunNumber == nil:
		return VehicleReport{}, &telegram.DecodeError{Field: "run_number"}
	case t.Delay == nil:
		return VehicleReport{}, &telegram.DecodeError{Field: "delay"}
	}
	status, err := telegram.ParseRequestStatus(t.RequestStatus)
	if err != nil {
		return VehicleReport{}, err
	}
	return VehicleReport{
		Region:            r.id,
		Line:              *t.Line,
		RunNumber:         *t.RunNumber,
		ReportingPoint:    t.ReportingPoint,
		Direction:         t.Direction,
		TimeStamp:         t.Time,
		Delayed:           *t.Delay,
		RequestStatus:     status,
		DestinationNumber: copyUint(t.DestinationNumber),
		TrainLength:       copyUint(t.TrainLength),
		LastUpdate:        r.opts.Now(),
	}, nil
}

func copyUint(v *uint32) *uint32 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// takePredecessor finds and removes the pending predecessor of report.
func (r *RegionState) takePredecessor(report VehicleReport) (VehicleReport, bool) {
	for _, up := range r.graph.Upstream(report.ReportingPoint) {
		queue := r.pending[up]
		for i, p := range queue {
			if p.Line != report.Line || p.RunNumber != report.RunNumber {
				continue
			}
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(r.pending, up)
			} else {
				r.pending[up] = queue
			}
			return p, true
		}
	}
	return VehicleReport{}, false
}

// park appends report to its point's queue and returns how many entries the
// depth cap dropped.
func (r *RegionState) park(report VehicleReport) int {
	queue := append(r.pending[report.ReportingPoint], report)
	dropped := 0
	if max := r.opts.PendingMaxDepth; max > 0 && len(queue) > max {
		dropped = len(queue) - max
		copy(queue, queue[dropped:])
		clear(queue[max:])
		queue = queue[:max]
	}
	r.pending[report.ReportingPoint] = queue
	return dropped
}

// sweep drops pending reports older than PendingMaxAge, at most once per
// SweepInterval.
func (r *RegionState) sweep(now time.Time) int {
	if r.opts.PendingMaxAge <= 0 || now.Sub(r.lastSweep) < r.opts.SweepInterval {
		return 0
	}
	r.lastSweep = now
	dropped := 0
	for point, queue := range r.pending {
		kept := queue[:0]
		for _, p := range queue {
			if now.Sub(p.LastUpdate) <= r.opts.PendingMaxAge {
				kept = append(kept, p)
			}
		}
		dropped += len(queue) - len(kept)
		if len(kept) == 0 {
			delete(r.pending, point)
			continue
		}
		clear(queue[len(kept):])
		r.pending[point] = kept
	}
	return dropped
}

// Vehicles returns a copy of the current table restricted to vehicles
// updated within ttl of now. A non-positive ttl disables the filter.
func (r *RegionState) Vehicles(now time.Time, ttl time.Duration) map[uint32]map[uint32]VehicleReport {
	out := make(map[uint32]map[uint32]VehicleReport, len(r.current))
	for line, runs := range r.current {
		var fresh map[uint32]VehicleReport
		for run, v := range runs {
			if ttl > 0 && now.Sub(v.LastUpdate) > ttl {
				continue
			}
			if fresh == nil {
				fresh = make(map[uint32]VehicleReport)
			}
			fresh[run] = v
		}
		if fresh != nil {
			out[line] = fresh
		}
	}
	return out
}

// Vehicle returns the current report for one line and run.
func (r *RegionState) Vehicle(line, run uint32) (VehicleReport, bool) {
	v, ok := r.current[line][run]
	return v, ok
}

// TravelTime returns the latest sample for an edge together with the
// edge's destination. Both must be known.
func (r *RegionState) TravelTime(point int, direction uint32) (TravelTime, bool) {
	sample, ok := r.edges[EdgeKey{Point: point, Direction: direction}]
	if !ok {
		return TravelTime{}, false
	}
	dest, ok := r.graph.Destination(point, direction)
	if !ok {
		return TravelTime{}, false
	}
	return TravelTime{HistoricalTime: sample, Destination: dest}, true
}

// Pending returns a copy of the reports parked at point.
func (r *RegionState) Pending(point int) []VehicleReport {
	queue := r.pending[point]
	if len(queue) == 0 {
		return nil
	}
	return append([]VehicleReport(nil), queue...)
}

// PendingLen returns the number of parked reports across all points.
func (r *RegionState) PendingLen() int {
	n := 0
	for _, queue := range r.pending {
		n += len(queue)
	}
	return n
}

// VehicleCount returns the number of (line, run) pairs with a current
// report.
func (r *RegionState) VehicleCount() int {
	n := 0
	for _, runs := range r.current {
		n += len(runs)
	}
	return n
}
