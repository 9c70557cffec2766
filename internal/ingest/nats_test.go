package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"telegram-sink/internal/state"
	"telegram-sink/internal/telegram"
)

type recordingIngester struct {
	got []telegram.Telegram
	err error
}

func (r *recordingIngester) Ingest(t *telegram.Telegram) (state.VehicleReport, error) {
	r.got = append(r.got, *t)
	return state.VehicleReport{}, r.err
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		ingestErr  error
		wantStatus int
		wantErr    string
		wantCalls  int
	}{
		{
			name:       "accepted",
			payload:    `{"time":1700000000,"region":0,"reporting_point":100,"direction":1,"request_status":1,"line":3,"run_number":12,"delay":-20}`,
			wantStatus: 0,
			wantCalls:  1,
		},
		{
			name:       "dropped by pipeline",
			payload:    `{"region":0,"reporting_point":100}`,
			ingestErr:  &telegram.DecodeError{Field: "line"},
			wantStatus: 1,
			wantErr:    "telegram missing line",
			wantCalls:  1,
		},
		{
			name:       "malformed json",
			payload:    `{"region":`,
			wantStatus: 1,
			wantErr:    "malformed telegram",
		},
		{
			name:       "wrong type",
			payload:    `{"region":"dresden"}`,
			wantStatus: 1,
			wantErr:    "malformed telegram",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &recordingIngester{err: tt.ingestErr}
			m := newCountingMetrics()
			s := NewServer(nil, "dvb.telegrams", "sink", ing, m)

			reply := s.HandleMessage([]byte(tt.payload))
			if reply.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", reply.Status, tt.wantStatus)
			}
			if !strings.Contains(reply.Error, tt.wantErr) || (tt.wantErr == "" && reply.Error != "") {
				t.Errorf("error = %q, want %q", reply.Error, tt.wantErr)
			}
			if len(ing.got) != tt.wantCalls {
				t.Errorf("ingested %d, want %d", len(ing.got), tt.wantCalls)
			}
			if tt.wantCalls == 0 && m.results[ResultMalformed] != 1 {
				t.Errorf("malformed count = %d, want 1", m.results[ResultMalformed])
			}
		})
	}
}

func TestHandleMessageDecodesOptionalFields(t *testing.T) {
	ing := &recordingIngester{}
	s := NewServer(nil, "dvb.telegrams", "sink", ing, nil)
	s.HandleMessage([]byte(`{"time":5,"region":2,"reporting_point":7,"direction":2,"request_status":3,"line":11,"run_number":4,"delay":0,"train_length":2}`))

	if len(ing.got) != 1 {
		t.Fatalf("ingested %d telegrams", len(ing.got))
	}
	got := ing.got[0]
	if got.Region != 2 || got.ReportingPoint != 7 || got.RequestStatus != 3 {
		t.Errorf("telegram = %+v", got)
	}
	if got.Line == nil || *got.Line != 11 || got.Delay == nil || *got.Delay != 0 {
		t.Errorf("optional fields = line %v delay %v", got.Line, got.Delay)
	}
	if got.TrainLength == nil || *got.TrainLength != 2 || got.DestinationNumber != nil {
		t.Errorf("extras = train_length %v destination %v", got.TrainLength, got.DestinationNumber)
	}
}

func TestReplyWireFormat(t *testing.T) {
	b, err := json.Marshal(Reply{Status: 0})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"status":0}` {
		t.Errorf("accepted reply = %s", b)
	}
	b, _ = json.Marshal(Reply{Status: 1, Error: errors.New("x").Error()})
	if string(b) != `{"status":1,"error":"x"}` {
		t.Errorf("dropped reply = %s", b)
	}
}

func TestDrainWithoutStart(t *testing.T) {
	s := NewServer(nil, "dvb.telegrams", "sink", &recordingIngester{}, nil)
	if err := s.Drain(); err != nil {
		t.Errorf("Drain() error = %v", err)
	}
}
