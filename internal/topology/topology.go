package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"telegram-sink/internal/state"
)

// PointMeta is the static description of one trackside point.
type PointMeta struct {
	Lat  float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
	Name string  `json:"name" yaml:"name"`
}

// Region is the static part of one region: its adjacency graph and point
// metadata.
type Region struct {
	ID     int
	Name   string
	Graph  *state.PointGraph
	Points map[int]PointMeta
}

// Topology holds every region known to the process. It is built once at
// startup and read-only afterwards.
type Topology struct {
	Regions map[int]*Region
	byName  map[string]int
}

// LoadError is returned for an unreadable or malformed topology file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load topology %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Region names used when the file does not name a region.
var defaultNames = map[int]string{
	0: "dresden",
	1: "chemnitz",
	2: "karlsruhe",
	3: "berlin",
}

type fileRegion struct {
	Name   string                    `json:"name" yaml:"name" validate:"omitempty,max=64"`
	Graph  map[string]map[string]int `json:"graph" yaml:"graph"`
	Points map[string]PointMeta      `json:"points" yaml:"points" validate:"dive"`
}

type fileTopology struct {
	Regions map[string]fileRegion `json:"regions" yaml:"regions" validate:"min=1,dive"`
}

// Load reads a topology file. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	ext := strings.ToLower(filepath.Ext(path))
	t, err := Parse(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return t, nil
}

// Parse decodes topology data, as YAML when isYAML is set, else as JSON.
func Parse(data []byte, isYAML bool) (*Topology, error) {
	var raw fileTopology
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	t := &Topology{
		Regions: make(map[int]*Region, len(raw.Regions)),
		byName:  make(map[string]int, len(raw.Regions)),
	}
	for key, fr := range raw.Regions {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("region id %q: %w", key, err)
		}
		r, err := buildRegion(id, fr)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", id, err)
		}
		if r.Name != "" {
			if other, dup := t.byName[r.Name]; dup {
				return nil, fmt.Errorf("region name %q used by regions %d and %d", r.Name, other, id)
			}
			t.byName[r.Name] = id
		}
		t.Regions[id] = r
	}
	return t, nil
}

func buildRegion(id int, fr fileRegion) (*Region, error) {
	name := strings.ToLower(strings.TrimSpace(fr.Name))
	if name == "" {
		name = defaultNames[id]
	}

	structure := make(map[int]map[uint32]int, len(fr.Graph))
	for fromKey, dirs := range fr.Graph {
		from, err := strconv.Atoi(fromKey)
		if err != nil {
			return nil, fmt.Errorf("graph point %q: %w", fromKey, err)
		}
		out := make(map[uint32]int, len(dirs))
		for dirKey, to := range dirs {
			dir, err := strconv.ParseUint(dirKey, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("graph point %d direction %q: %w", from, dirKey, err)
			}
			out[uint32(dir)] = to
		}
		structure[from] = out
	}

	points := make(map[int]PointMeta, len(fr.Points))
	for key, meta := range fr.Points {
		p, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", key, err)
		}
		points[p] = meta
	}

	return &Region{
		ID:     id,
		Name:   name,
		Graph:  state.NewPointGraph(structure),
		Points: points,
	}, nil
}

// Graphs returns the adjacency graph of every region.
func (t *Topology) Graphs() map[int]*state.PointGraph {
	out := make(map[int]*state.PointGraph, len(t.Regions))
	for id, r := range t.Regions {
		out[id] = r.Graph
	}
	return out
}

// RegionID resolves a region by name (case-insensitive) or numeric id.
func (t *Topology) RegionID(nameOrID string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(nameOrID))
	if id, ok := t.byName[s]; ok {
		return id, true
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if _, ok := t.Regions[id]; !ok {
		return 0, false
	}
	return id, true
}

// Names returns region names in ascending id order; unnamed regions are
// omitted.
func (t *Topology) Names() []string {
	ids := make([]int, 0, len(t.Regions))
	for id := range t.Regions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := t.Regions[id].Name; n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Point returns the metadata of a point. Unknown regions or points yield
// the zero PointMeta.
func (t *Topology) Point(region, point int) PointMeta {
	r, ok := t.Regions[region]
	if !ok {
		return PointMeta{}
	}
	return r.Points[point]
}

// LookupPoint is Point with an existence flag.
func (t *Topology) LookupPoint(region, point int) (PointMeta, bool) {
	r, ok := t.Regions[region]
	if !ok {
		return PointMeta{}, false
	}
	m, ok := r.Points[point]
	return m, ok
}

// MergePoints overlays metadata for known regions and returns how many
// points were written. It must only be called before the topology is
// shared.
func (t *Topology) MergePoints(points map[int]map[int]PointMeta) int {
	n := 0
	for region, pts := range points {
		r, ok := t.Regions[region]
		if !ok {
			continue
		}
		for p, meta := range pts {
			r.Points[p] = meta
			n++
		}
	}
	return n
}
