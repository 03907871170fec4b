package marker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

// Publisher hands records to whatever displays them. Publishing is fire and forget: a record with
// the same namespace and id replaces the previous one downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, rec Record) error
	Close() error
}

// LogPublisher writes every record to a logger.
type LogPublisher struct {
	Logger golog.Logger
}

// Publish logs rec at debug level.
func (p *LogPublisher) Publish(ctx context.Context, topic string, rec Record) error {
	p.Logger.Debugw("publishing marker",
		"topic", topic,
		"ns", rec.Namespace,
		"id", rec.ID,
		"frame", rec.Frame,
		"position", rec.Pose.Position,
	)
	return nil
}

// Close does nothing.
func (p *LogPublisher) Close() error {
	return nil
}

// Snapshot is the document written by FilePublisher.
type Snapshot struct {
	Topic   string   `yaml:"topic"`
	Markers []Record `yaml:"markers"`
}

// FilePublisher keeps the latest record per (namespace, id) and rewrites a YAML snapshot of all
// of them on every publish. The file is replaced atomically.
type FilePublisher struct {
	path string

	mu      sync.Mutex
	records map[recordKey]Record
	topic   string
}

type recordKey struct {
	ns string
	id int
}

// NewFilePublisher returns a publisher writing to path. The directory must exist.
func NewFilePublisher(path string) (*FilePublisher, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error checking marker file directory %v", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("marker file directory %v is not a directory", dir)
	}
	return &FilePublisher{path: path, records: map[recordKey]Record{}}, nil
}

// Publish stores rec and rewrites the snapshot.
func (p *FilePublisher) Publish(ctx context.Context, topic string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.topic = topic
	p.records[recordKey{rec.Namespace, rec.ID}] = rec
	return p.write()
}

func (p *FilePublisher) write() error {
	snap := Snapshot{Topic: p.topic, Markers: make([]Record, 0, len(p.records))}
	for _, rec := range p.records {
		snap.Markers = append(snap.Markers, rec)
	}
	sort.Slice(snap.Markers, func(i, j int) bool {
		a, b := snap.Markers[i], snap.Markers[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.ID < b.ID
	})

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return errors.Wrap(err, "error while marshaling marker snapshot")
	}

	//nolint:gosec
	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return multierr.Combine(err, tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return multierr.Combine(err, os.Remove(tmp.Name()))
	}
	return os.Rename(tmp.Name(), p.path)
}

// Close does nothing; the last snapshot stays on disk.
func (p *FilePublisher) Close() error {
	return nil
}

// Multi fans every record out to several publishers.
type Multi []Publisher

// Publish publishes to every publisher and returns all failures combined.
func (m Multi) Publish(ctx context.Context, topic string, rec Record) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, topic, rec))
	}
	return err
}

// Close closes every publisher and returns all failures combined.
func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}
