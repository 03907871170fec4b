package marker_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-tag-mapper/marker"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

const (
	worldFrame  = "map"
	markerTopic = "tag_marker"
)

func TestAssemble(t *testing.T) {
	t.Run("Fixed shape scale and color", func(t *testing.T) {
		rec := marker.Assemble(transform.NewPose(1, 2, 3), worldFrame, marker.DefaultID)
		test.That(t, rec, test.ShouldResemble, marker.Record{
			Namespace: "box",
			ID:        0,
			Frame:     worldFrame,
			Shape:     marker.Cube,
			Action:    marker.Add,
			Pose:      transform.NewPose(1, 2, 3),
			Scale:     marker.Vector3{X: 0.5, Y: 0.5, Z: 0.5},
			Color:     marker.DeepPink,
		})
	})

	t.Run("Color channels are normalized", func(t *testing.T) {
		for _, c := range []float64{marker.DeepPink.R, marker.DeepPink.G, marker.DeepPink.B, marker.DeepPink.A} {
			test.That(t, c, test.ShouldBeBetweenOrEqual, 0, 1)
		}
	})

	t.Run("Invalid poses pass through", func(t *testing.T) {
		pose := transform.Pose{Orientation: quat.Number{Real: math.NaN()}}
		rec := marker.Assemble(pose, worldFrame, 7)
		test.That(t, math.IsNaN(rec.Pose.Orientation.Real), test.ShouldBeTrue)
		test.That(t, rec.ID, test.ShouldEqual, 7)
	})

	t.Run("Configured namespace", func(t *testing.T) {
		rec := marker.Assembler{Namespace: "tags"}.Assemble(transform.NewPose(0, 0, 0), worldFrame, 1)
		test.That(t, rec.Namespace, test.ShouldEqual, "tags")
	})
}

func TestRegistry(t *testing.T) {
	reg := marker.NewRegistry()
	test.That(t, reg.Len(), test.ShouldEqual, 0)
	test.That(t, reg.Records(), test.ShouldBeEmpty)

	reg.Put(marker.Assemble(transform.NewPose(1, 1, 1), worldFrame, 2))
	reg.Put(marker.Assemble(transform.NewPose(0, 0, 0), worldFrame, 0))
	reg.Put(marker.Assemble(transform.NewPose(5, 5, 5), worldFrame, 2))

	test.That(t, reg.Len(), test.ShouldEqual, 2)
	recs := reg.Records()
	test.That(t, recs[0].ID, test.ShouldEqual, 0)
	test.That(t, recs[1].ID, test.ShouldEqual, 2)
	test.That(t, recs[1].Pose, test.ShouldResemble, transform.NewPose(5, 5, 5))

	rec, ok := reg.Get(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rec.Pose, test.ShouldResemble, transform.NewPose(0, 0, 0))
	_, ok = reg.Get(1)
	test.That(t, ok, test.ShouldBeFalse)
}

func readSnapshot(t *testing.T, path string) marker.Snapshot {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	var snap marker.Snapshot
	test.That(t, yaml.Unmarshal(data, &snap), test.ShouldBeNil)
	return snap
}

func TestFilePublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing directory", func(t *testing.T) {
		_, err := marker.NewFilePublisher(filepath.Join(t.TempDir(), "nope", "markers.yaml"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error checking marker file directory")
	})

	t.Run("Snapshot keeps the latest record per id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "markers.yaml")
		pub, err := marker.NewFilePublisher(path)
		test.That(t, err, test.ShouldBeNil)
		defer func() { test.That(t, pub.Close(), test.ShouldBeNil) }()

		test.That(t, pub.Publish(ctx, markerTopic, marker.Assemble(transform.NewPose(1, 2, 3), worldFrame, 1)), test.ShouldBeNil)
		test.That(t, pub.Publish(ctx, markerTopic, marker.Assemble(transform.NewPose(0, 0, 0), worldFrame, 0)), test.ShouldBeNil)
		test.That(t, pub.Publish(ctx, markerTopic, marker.Assemble(transform.NewPose(4, 5, 6), worldFrame, 1)), test.ShouldBeNil)

		snap := readSnapshot(t, path)
		test.That(t, snap.Topic, test.ShouldEqual, markerTopic)
		test.That(t, snap.Markers, test.ShouldResemble, []marker.Record{
			marker.Assemble(transform.NewPose(0, 0, 0), worldFrame, 0),
			marker.Assemble(transform.NewPose(4, 5, 6), worldFrame, 1),
		})

		entries, err := os.ReadDir(filepath.Dir(path))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(entries), test.ShouldEqual, 1)
	})

	t.Run("Republishing the same record is byte identical", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "markers.yaml")
		pub, err := marker.NewFilePublisher(path)
		test.That(t, err, test.ShouldBeNil)

		rec := marker.Assemble(transform.NewPose(1, 2, 3), worldFrame, 0)
		test.That(t, pub.Publish(ctx, markerTopic, rec), test.ShouldBeNil)
		first, err := os.ReadFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pub.Publish(ctx, markerTopic, rec), test.ShouldBeNil)
		second, err := os.ReadFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, second, test.ShouldResemble, first)
	})
}

type failingPublisher struct {
	publishErr, closeErr error
	published            int
}

func (f *failingPublisher) Publish(ctx context.Context, topic string, rec marker.Record) error {
	f.published++
	return f.publishErr
}

func (f *failingPublisher) Close() error {
	return f.closeErr
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	rec := marker.Assemble(transform.NewPose(1, 2, 3), worldFrame, 0)

	t.Run("All publishers are reached", func(t *testing.T) {
		a, b := &failingPublisher{}, &failingPublisher{}
		multi := marker.Multi{a, &marker.LogPublisher{Logger: logger}, b}
		test.That(t, multi.Publish(ctx, markerTopic, rec), test.ShouldBeNil)
		test.That(t, a.published, test.ShouldEqual, 1)
		test.That(t, b.published, test.ShouldEqual, 1)
		test.That(t, multi.Close(), test.ShouldBeNil)
	})

	t.Run("Failures are combined", func(t *testing.T) {
		a := &failingPublisher{publishErr: errors.New("a is down"), closeErr: errors.New("a close")}
		b := &failingPublisher{publishErr: errors.New("b is down")}
		multi := marker.Multi{a, b}

		err := multi.Publish(ctx, markerTopic, rec)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "a is down")
		test.That(t, err.Error(), test.ShouldContainSubstring, "b is down")
		test.That(t, b.published, test.ShouldEqual, 1)

		test.That(t, multi.Close().Error(), test.ShouldContainSubstring, "a close")
	})
}
