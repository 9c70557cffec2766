package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"telegram-sink/internal/state"
	"telegram-sink/internal/topology"
)

// Topology resolves region path parameters and point metadata.
type Topology interface {
	RegionID(nameOrID string) (int, bool)
	LookupPoint(region, point int) (topology.PointMeta, bool)
}

type Server struct {
	store *state.Store
	topo  Topology
	ttl   time.Duration
	now   func() time.Time
}

// NewServer serves read-only views of the store. Vehicles not updated for
// longer than ttl are left out of the network view.
func NewServer(store *state.Store, topo Topology, ttl time.Duration) *Server {
	return &Server{store: store, topo: topo, ttl: ttl, now: time.Now}
}

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}

type networkResponse struct {
	Network   map[uint32]map[uint32]state.VehicleReport `json:"network"`
	TimeStamp int64                                     `json:"time_stamp"`
}

type vehicleQuery struct {
	Line      *uint32 `json:"line"`
	RunNumber *uint32 `json:"run_number"`
}

type travelTimeQuery struct {
	Junction  *int    `json:"junction"`
	Direction *uint32 `json:"direction"`
}

type coordinatesQuery struct {
	StationID *int `json:"station_id"`
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Enable CORS for all routes
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/vehicles/{region}/all", s.handleNetwork).Methods("GET", "OPTIONS")
	r.HandleFunc("/vehicles/{region}/query", s.handleVehicle).Methods("POST", "OPTIONS")
	r.HandleFunc("/network/{region}/estimated_travel_time", s.handleTravelTime).Methods("POST", "OPTIONS")
	r.HandleFunc("/static/{region}/coordinates", s.handleCoordinates).Methods("POST", "OPTIONS")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// GET /vehicles/{region}/all
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	now := s.now()
	var network map[uint32]map[uint32]state.VehicleReport
	err := s.store.WithRegionRead(region, func(rs *state.RegionState) error {
		network = rs.Vehicles(now, s.ttl)
		return nil
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, networkResponse{Network: network, TimeStamp: now.Unix()})
}

// POST /vehicles/{region}/query
func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	var q vehicleQuery
	if !decodeBody(w, r, &q) {
		return
	}
	if q.Line == nil || q.RunNumber == nil {
		writeError(w, http.StatusBadRequest, "line and run_number are required")
		return
	}
	var report state.VehicleReport
	err := s.store.WithRegionRead(region, func(rs *state.RegionState) error {
		var found bool
		if report, found = rs.Vehicle(*q.Line, *q.RunNumber); !found {
			return state.ErrNotFound
		}
		return nil
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /network/{region}/estimated_travel_time
func (s *Server) handleTravelTime(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	var q travelTimeQuery
	if !decodeBody(w, r, &q) {
		return
	}
	if q.Junction == nil || q.Direction == nil {
		writeError(w, http.StatusBadRequest, "junction and direction are required")
		return
	}
	var tt state.TravelTime
	err := s.store.WithRegionRead(region, func(rs *state.RegionState) error {
		var found bool
		if tt, found = rs.TravelTime(*q.Junction, *q.Direction); !found {
			return state.ErrNotFound
		}
		return nil
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// POST /static/{region}/coordinates
func (s *Server) handleCoordinates(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	var q coordinatesQuery
	if !decodeBody(w, r, &q) {
		return
	}
	if q.StationID == nil {
		writeError(w, http.StatusBadRequest, "station_id is required")
		return
	}
	meta, found := s.topo.LookupPoint(region, *q.StationID)
	if !found {
		writeError(w, http.StatusNotFound, "Station ID not found for region")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) region(w http.ResponseWriter, r *http.Request) (int, bool) {
	name := mux.Vars(r)["region"]
	id, ok := s.topo.RegionID(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown region "+name)
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, state.ErrUnknownRegion):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{ErrorMessage: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
