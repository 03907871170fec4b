// Package testhelper provides fakes for testing code built on the tag mapper packages.
package testhelper

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-tag-mapper/marker"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

// CreateTempConfigFile writes contents to a config file in a fresh temporary directory and
// returns its path.
func CreateTempConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tag_mapper.yaml")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

// RecordingPublisher remembers every record published to it, along with its YAML encoding.
type RecordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	records []marker.Record
	encoded [][]byte
	closed  bool

	// PublishErr, when set, is returned from every Publish after recording.
	PublishErr error
}

// Publish records rec.
func (p *RecordingPublisher) Publish(ctx context.Context, topic string, rec marker.Record) error {
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.records = append(p.records, rec)
	p.encoded = append(p.encoded, data)
	return p.PublishErr
}

// Close marks the publisher closed.
func (p *RecordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Records returns a copy of everything published so far.
func (p *RecordingPublisher) Records() []marker.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]marker.Record(nil), p.records...)
}

// Encoded returns the YAML encoding of every published record.
func (p *RecordingPublisher) Encoded() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.encoded...)
}

// Topics returns the topic of every publish.
func (p *RecordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// Len returns how many records were published.
func (p *RecordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Closed reports whether Close was called.
func (p *RecordingPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ScriptedResult is one answer of a ScriptedSource.
type ScriptedResult struct {
	Sample transform.Sample
	Err    error
}

// ScriptedSource answers lookups from a fixed script. Once the script runs out the last answer
// repeats. An empty script answers with an error.
type ScriptedSource struct {
	mu     sync.Mutex
	script []ScriptedResult
	calls  int
}

// NewScriptedSource returns a source answering with results in order.
func NewScriptedSource(results ...ScriptedResult) *ScriptedSource {
	return &ScriptedSource{script: results}
}

// LookupTransform returns the next scripted answer.
func (s *ScriptedSource) LookupTransform(ctx context.Context, target, source string, at time.Time) (transform.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return transform.Sample{}, errors.New("empty script")
	}
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i].Sample, s.script[i].Err
}

// Calls returns how many lookups were made.
func (s *ScriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
