// Package marker assembles the visual records published for each observed tag.
package marker

import (
	"sort"

	"github.com/viamrobotics/viam-tag-mapper/transform"
)

const (
	// DefaultNamespace is the namespace markers are published under unless configured otherwise.
	DefaultNamespace = "box"
	// DefaultID is the single marker slot used when only one tag is tracked.
	DefaultID = 0

	cubeSize = 0.5
)

// Shape is the primitive a marker is drawn as.
type Shape string

// Action tells the display client what to do with the record.
type Action string

const (
	// Cube draws an axis aligned box scaled by the record's Scale.
	Cube Shape = "cube"
	// Add creates the marker or replaces the one with the same namespace and id.
	Add Action = "add"
)

// Vector3 is a scale along each axis.
type Vector3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Color is an RGBA color with every channel in [0, 1].
type Color struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
	A float64 `yaml:"a"`
}

// DeepPink is the fixed marker color.
var DeepPink = Color{R: 1, G: 20. / 255, B: 147. / 255, A: 1}

// Record is one marker as handed to the display client. Records are rebuilt from scratch
// whenever their tag is observed again.
type Record struct {
	Namespace string         `yaml:"ns"`
	ID        int            `yaml:"id"`
	Frame     string         `yaml:"frame_id"`
	Shape     Shape          `yaml:"type"`
	Action    Action         `yaml:"action"`
	Pose      transform.Pose `yaml:"pose"`
	Scale     Vector3        `yaml:"scale"`
	Color     Color          `yaml:"color"`
}

// Assembler fills records under a fixed namespace.
type Assembler struct {
	Namespace string
}

// Assemble returns the record for a pose expressed in frame. The pose is not validated.
func (a Assembler) Assemble(pose transform.Pose, frame string, id int) Record {
	return Record{
		Namespace: a.Namespace,
		ID:        id,
		Frame:     frame,
		Shape:     Cube,
		Action:    Add,
		Pose:      pose,
		Scale:     Vector3{X: cubeSize, Y: cubeSize, Z: cubeSize},
		Color:     DeepPink,
	}
}

// Assemble builds a record under DefaultNamespace.
func Assemble(pose transform.Pose, frame string, id int) Record {
	return Assembler{Namespace: DefaultNamespace}.Assemble(pose, frame, id)
}

// Registry holds the latest record per marker id.
type Registry struct {
	records map[int]Record
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: map[int]Record{}}
}

// Put stores rec, replacing any record with the same id.
func (r *Registry) Put(rec Record) {
	r.records[rec.ID] = rec
}

// Get returns the record stored for id.
func (r *Registry) Get(id int) (Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// Len returns the number of markers held.
func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns every record ordered by id.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
