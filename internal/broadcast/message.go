package broadcast

import (
	"telegram-sink/internal/state"
	"telegram-sink/internal/topology"
)

// Message is the outbound frame: the report and its point metadata as one
// flat JSON object.
type Message struct {
	state.VehicleReport
	topology.PointMeta
}
