package telegram

import (
	"encoding/json"
	"fmt"
)

// Telegram is one decoded R09 report as delivered by the ingestion transport.
// Line, RunNumber and Delay are optional on the wire.
type Telegram struct {
	Time              uint64  `json:"time"` // unix seconds, source clock
	Region            int     `json:"region"`
	ReportingPoint    int     `json:"reporting_point"`
	Direction         uint32  `json:"direction"`
	RequestStatus     int16   `json:"request_status"`
	Line              *uint32 `json:"line,omitempty"`
	RunNumber         *uint32 `json:"run_number,omitempty"`
	Delay             *int32  `json:"delay,omitempty"`
	DestinationNumber *uint32 `json:"destination_number,omitempty"`
	TrainLength       *uint32 `json:"train_length,omitempty"`
}

// DecodeError reports a required field that was absent on a telegram.
type DecodeError struct {
	Field string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telegram missing %s", e.Field)
}

// StatusDecodeError reports a request status code with no known meaning.
type StatusDecodeError struct {
	Code int16
}

func (e *StatusDecodeError) Error() string {
	return fmt.Sprintf("unknown request status %d", e.Code)
}

// RequestStatus is the signal-priority request state carried by a telegram.
type RequestStatus int16

const (
	PreRegistration RequestStatus = iota
	Registration
	Deregistration
	DoorClosed
)

var statusNames = map[RequestStatus]string{
	PreRegistration: "pre_registration",
	Registration:    "registration",
	Deregistration:  "deregistration",
	DoorClosed:      "door_closed",
}

// ParseRequestStatus maps a raw protocol code onto a RequestStatus.
func ParseRequestStatus(code int16) (RequestStatus, error) {
	s := RequestStatus(code)
	if _, ok := statusNames[s]; !ok {
		return 0, &StatusDecodeError{Code: code}
	}
	return s, nil
}

func (s RequestStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("request_status(%d)", int16(s))
}

func (s RequestStatus) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, &StatusDecodeError{Code: int16(s)}
	}
	return json.Marshal(name)
}

func (s *RequestStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for k, v := range statusNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown request status %q", name)
}
