// Package tflookup defines where frame-to-frame transform samples come from.
package tflookup

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-tag-mapper/transform"
)

// Latest asks a Source for the most recent sample it has.
var Latest = time.Time{}

// ErrTransformUnavailable is returned when no sample exists yet for the requested frame pair.
var ErrTransformUnavailable = errors.New("transform unavailable")

// Source looks up the transform that carries points from the source frame into the target frame.
type Source interface {
	LookupTransform(ctx context.Context, target, source string, at time.Time) (transform.Sample, error)
}

func unavailable(target, source string) error {
	return errors.Wrapf(ErrTransformUnavailable, "%q -> %q", source, target)
}

// Static always returns the same sample for one frame pair.
type Static struct {
	Target string
	Source string
	Sample transform.Sample
}

// LookupTransform returns the fixed sample when the frame pair matches. The time is ignored.
func (s *Static) LookupTransform(ctx context.Context, target, source string, at time.Time) (transform.Sample, error) {
	if err := ctx.Err(); err != nil {
		return transform.Sample{}, err
	}
	if target != s.Target || source != s.Source {
		return transform.Sample{}, unavailable(target, source)
	}
	return s.Sample, nil
}

type framePair struct {
	target, source string
}

type stamped struct {
	sample transform.Sample
	stamp  time.Time
}

// Buffer keeps the latest sample per frame pair, fed by an external tracker.
type Buffer struct {
	mu      sync.Mutex
	samples map[framePair]stamped
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{samples: map[framePair]stamped{}}
}

// Set records the sample for a frame pair observed at stamp, replacing any older one.
// Samples older than the one already stored are ignored.
func (b *Buffer) Set(target, source string, stamp time.Time, sample transform.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := framePair{target, source}
	if prev, ok := b.samples[key]; ok && stamp.Before(prev.stamp) {
		return
	}
	b.samples[key] = stamped{sample: sample, stamp: stamp}
}

// LookupTransform returns the stored sample. A non-zero time must not be newer than the stored
// sample's stamp; there is no history to interpolate from.
func (b *Buffer) LookupTransform(ctx context.Context, target, source string, at time.Time) (transform.Sample, error) {
	if err := ctx.Err(); err != nil {
		return transform.Sample{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.samples[framePair{target, source}]
	if !ok {
		return transform.Sample{}, unavailable(target, source)
	}
	if !at.IsZero() && at.After(s.stamp) {
		return transform.Sample{}, errors.Wrapf(unavailable(target, source), "requested %v, latest is %v", at, s.stamp)
	}
	return s.sample, nil
}
