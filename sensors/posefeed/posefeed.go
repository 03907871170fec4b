// Package posefeed holds the most recent tag poses reported on the inbound pose topic.
package posefeed

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-tag-mapper/transform"
)

// TagPose is a single pose notification for one tag.
type TagPose struct {
	ID    int
	Frame string
	Pose  transform.Pose
}

// Feed keeps pending notifications until the control loop drains them. A newer notification for
// the same tag replaces the pending one.
type Feed struct {
	mu      sync.Mutex
	pending map[int]TagPose
	dropped int
}

// New returns an empty Feed.
func New() *Feed {
	return &Feed{pending: map[int]TagPose{}}
}

// Notify records a pose notification.
func (f *Feed) Notify(tp TagPose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[tp.ID]; ok {
		f.dropped++
	}
	f.pending[tp.ID] = tp
}

// Drain returns the pending notifications ordered by tag id and clears them.
func (f *Feed) Drain() []TagPose {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	out := make([]TagPose, 0, len(f.pending))
	for _, tp := range f.pending {
		out = append(out, tp)
	}
	f.pending = map[int]TagPose{}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore puts drained notifications back unless a newer one for the same tag arrived meanwhile.
func (f *Feed) Restore(tps []TagPose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tp := range tps {
		if _, ok := f.pending[tp.ID]; !ok {
			f.pending[tp.ID] = tp
		}
	}
}

// Overwritten returns how many notifications were replaced before being drained.
func (f *Feed) Overwritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

type vector struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type orientation struct {
	W float64 `yaml:"w"`
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// tagPoseDoc is one YAML document on the inbound stream.
type tagPoseDoc struct {
	Topic       string       `yaml:"topic"`
	ID          int          `yaml:"id"`
	Frame       string       `yaml:"frame"`
	Position    vector       `yaml:"position"`
	Orientation *orientation `yaml:"orientation"`
}

func (d tagPoseDoc) tagPose(defaultFrame string) TagPose {
	frame := d.Frame
	if frame == "" {
		frame = defaultFrame
	}
	o := quat.Number{Real: 1}
	if d.Orientation != nil {
		o = quat.Number{Real: d.Orientation.W, Imag: d.Orientation.X, Jmag: d.Orientation.Y, Kmag: d.Orientation.Z}
	}
	return TagPose{
		ID:    d.ID,
		Frame: frame,
		Pose: transform.Pose{
			Position:    r3.Vector{X: d.Position.X, Y: d.Position.Y, Z: d.Position.Z},
			Orientation: o,
		},
	}
}

// ReadYAML decodes a stream of "---" separated tag pose documents from r and notifies the feed
// with each one until EOF or until ctx is done. Documents naming a topic other than topic are
// skipped. Documents without a frame are assigned defaultFrame and documents without an
// orientation are unrotated. A malformed document ends the stream with an error.
func (f *Feed) ReadYAML(ctx context.Context, r io.Reader, topic, defaultFrame string, logger golog.Logger) error {
	dec := yaml.NewDecoder(r)
	for count := 0; ; count++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc tagPoseDoc
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debugw("pose stream ended", "documents", count)
				return nil
			}
			return errors.Wrapf(err, "error decoding tag pose document %d", count)
		}
		if doc.Topic != "" && doc.Topic != topic {
			logger.Debugw("skipping tag pose for another topic", "topic", doc.Topic, "id", doc.ID)
			continue
		}
		f.Notify(doc.tagPose(defaultFrame))
	}
}
