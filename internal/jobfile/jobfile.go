// Package jobfile reads job descriptions from JSON or YAML. Geometry is
// given in millimetres and mapped onto the device bed when expanded.
package jobfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gg"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lasercut/internal/cutcode"
	"github.com/banshee-data/lasercut/internal/operation"
	"github.com/banshee-data/lasercut/internal/security"
	"github.com/banshee-data/lasercut/internal/units"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrNoOperations is returned for a job with nothing to do.
var ErrNoOperations = errors.New("job has no operations")

type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	W      float64 `json:"w" yaml:"w"`
	H      float64 `json:"h" yaml:"h"`
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
}

type Ellipse struct {
	CX float64 `json:"cx" yaml:"cx"`
	CY float64 `json:"cy" yaml:"cy"`
	RX float64 `json:"rx" yaml:"rx"`
	RY float64 `json:"ry" yaml:"ry"`
}

// Polyline is a list of [x, y] pairs. Closed adds a segment back to the
// first point.
type Polyline struct {
	Points [][2]float64 `json:"points" yaml:"points"`
	Closed bool         `json:"closed,omitempty" yaml:"closed,omitempty"`
}

// Operation is one step of a job. Type is "cut", "engrave" or "home".
type Operation struct {
	Type   string  `json:"type" yaml:"type"`
	Speed  float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Power  float64 `json:"power,omitempty" yaml:"power,omitempty"`
	Passes int     `json:"passes,omitempty" yaml:"passes,omitempty"`
	Color  string  `json:"color,omitempty" yaml:"color,omitempty"`

	Rects     []Rect     `json:"rects,omitempty" yaml:"rects,omitempty"`
	Ellipses  []Ellipse  `json:"ellipses,omitempty" yaml:"ellipses,omitempty"`
	Polylines []Polyline `json:"polylines,omitempty" yaml:"polylines,omitempty"`

	// X and Y are the home position for type "home".
	X float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

// File is a whole job.
type File struct {
	Name       string      `json:"name" yaml:"name"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Load reads a .json, .yaml or .yml job file.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("job file must have .json, .yaml or .yml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat job file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("job file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	f, err := decode(data, ext == ".json")
	if err != nil {
		return nil, err
	}
	if f.Name == "" {
		f.Name = filepath.Base(cleanPath)
	}
	return f, nil
}

// LoadFrom reads the job file name from dir. Names that resolve outside
// dir are refused.
func LoadFrom(dir, name string) (*File, error) {
	path, err := security.ResolveWithin(dir, name)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Parse decodes an uploaded job. JSON is detected from contentType or a
// leading '{'; anything else is read as YAML.
func Parse(data []byte, contentType string) (*File, error) {
	isJSON := strings.Contains(contentType, "json") || bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
	f, err := decode(data, isJSON)
	if err != nil {
		return nil, err
	}
	if f.Name == "" {
		f.Name = "upload"
	}
	return f, nil
}

func decode(data []byte, isJSON bool) (*File, error) {
	var f File
	var err error
	if isJSON {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks operation types and shapes.
func (f *File) Validate() error {
	if len(f.Operations) == 0 {
		return ErrNoOperations
	}
	for i, op := range f.Operations {
		switch op.Type {
		case "cut", "engrave", "home":
		default:
			return fmt.Errorf("operation %d: unknown type %q", i, op.Type)
		}
		if op.Power < 0 || op.Power > 1000 {
			return fmt.Errorf("operation %d: power must be between 0 and 1000, got %g", i, op.Power)
		}
		if op.Speed < 0 {
			return fmt.Errorf("operation %d: speed must be non-negative, got %g", i, op.Speed)
		}
		for j, pl := range op.Polylines {
			if len(pl.Points) < 2 {
				return fmt.Errorf("operation %d: polyline %d needs at least two points", i, j)
			}
		}
	}
	return nil
}

// BedMatrix maps millimetres onto device units, mirroring axes the way
// conv does.
func BedMatrix(conv units.Converter) gg.Matrix {
	x0, y0 := conv.PhysicalToDevicePosition(0, 0)
	x1, y1 := conv.PhysicalToDevicePosition(1, 1)
	return gg.Matrix{
		A: x1 - x0, B: 0, C: x0,
		D: 0, E: y1 - y0, F: y0,
	}
}

func (op Operation) settings() *cutcode.Settings {
	s := cutcode.DefaultSettings()
	if op.Speed > 0 {
		s.Speed = op.Speed
	}
	if op.Power > 0 {
		s.Power = op.Power
	}
	if op.Passes > 0 {
		s.Passes = op.Passes
	}
	return s
}

func (op Operation) nodes(m *gg.Matrix) []operation.Node {
	var nodes []operation.Node
	for _, r := range op.Rects {
		p := operation.RectNode{X: r.X, Y: r.Y, W: r.W, H: r.H, Radius: r.Radius}.AsPath()
		nodes = append(nodes, operation.PathNode{Path: p, Transform: m, Stroke: op.Color})
	}
	for _, e := range op.Ellipses {
		p := operation.EllipseNode{CX: e.CX, CY: e.CY, RX: e.RX, RY: e.RY}.AsPath()
		nodes = append(nodes, operation.PathNode{Path: p, Transform: m, Stroke: op.Color})
	}
	for _, pl := range op.Polylines {
		p := gg.NewPath()
		p.MoveTo(pl.Points[0][0], pl.Points[0][1])
		for _, pt := range pl.Points[1:] {
			p.LineTo(pt[0], pt[1])
		}
		if pl.Closed {
			p.Close()
		}
		nodes = append(nodes, operation.PathNode{Path: p, Transform: m, Stroke: op.Color})
	}
	return nodes
}

// Sources converts the job into assembler inputs in device coordinates.
func (f *File) Sources(conv units.Converter) []operation.Source {
	m := BedMatrix(conv)
	var sources []operation.Source
	for _, op := range f.Operations {
		switch op.Type {
		case "home":
			x, y := conv.PhysicalToDevicePosition(op.X, op.Y)
			sources = append(sources, operation.HomeOperation{X: x, Y: y})
		case "cut", "engrave":
			typ := operation.TypeCut
			if op.Type == "engrave" {
				typ = operation.TypeEngrave
			}
			s := op.settings()
			sources = append(sources, &operation.Operation{
				Type:     typ,
				Settings: s,
				Passes:   s.Passes,
				Children: op.nodes(&m),
			})
		}
	}
	return sources
}

// Groups expands the job into cut groups.
func (f *File) Groups(conv units.Converter, closedDistance float64) []*cutcode.CutGroup {
	return operation.Collect(closedDistance, f.Sources(conv)...)
}
