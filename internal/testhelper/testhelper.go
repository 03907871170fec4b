// Package testhelper sets up tag mapper services wired to fakes for the purpose of testing.
package testhelper

import (
	"context"
	"math"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	tagmapper "github.com/viamrobotics/viam-tag-mapper"
	"github.com/viamrobotics/viam-tag-mapper/sensors/posefeed"
	"github.com/viamrobotics/viam-tag-mapper/sensors/tflookup"
	"github.com/viamrobotics/viam-tag-mapper/testhelper"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

const (
	// WorldFrame and SensorFrame are the frames every test config uses.
	WorldFrame  = "map"
	SensorFrame = "camera_link"
)

// GoodSample is the transform returned by the "good_transform" source: translation 1 2 3 and a
// 90 degree yaw.
var GoodSample = transform.Sample{
	Translation: r3.Vector{X: 1, Y: 2, Z: 3},
	Rotation:    quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)},
}

// Deps is the set of fakes a test service runs against.
type Deps struct {
	Source    *testhelper.ScriptedSource
	Poses     *posefeed.Feed
	Publisher *testhelper.RecordingPublisher
	Clock     *clock.Mock
}

// Dependencies returns the fakes as service dependencies.
func (d Deps) Dependencies() tagmapper.Dependencies {
	return tagmapper.Dependencies{
		Transforms: d.Source,
		Poses:      d.Poses,
		Publisher:  d.Publisher,
		Clock:      d.Clock,
	}
}

func unavailable() error {
	return errors.Wrapf(tflookup.ErrTransformUnavailable, "%q -> %q", SensorFrame, WorldFrame)
}

// SetupDeps returns fakes whose transform source behaves as named:
//   - good_transform: always GoodSample
//   - unavailable_transform: always unavailable
//   - flaky_transform: unavailable once, then GoodSample
//   - dropping_transform: GoodSample, unavailable once, then GoodSample
//   - nan_transform: a sample with a NaN translation
//   - degenerate_transform: a sample with a zero rotation once, then GoodSample
func SetupDeps(sourceName string) Deps {
	var src *testhelper.ScriptedSource
	switch sourceName {
	case "good_transform":
		src = testhelper.NewScriptedSource(testhelper.ScriptedResult{Sample: GoodSample})
	case "unavailable_transform":
		src = testhelper.NewScriptedSource(testhelper.ScriptedResult{Err: unavailable()})
	case "flaky_transform":
		src = testhelper.NewScriptedSource(
			testhelper.ScriptedResult{Err: unavailable()},
			testhelper.ScriptedResult{Sample: GoodSample},
		)
	case "dropping_transform":
		src = testhelper.NewScriptedSource(
			testhelper.ScriptedResult{Sample: GoodSample},
			testhelper.ScriptedResult{Err: unavailable()},
			testhelper.ScriptedResult{Sample: GoodSample},
		)
	case "nan_transform":
		bad := GoodSample
		bad.Translation.X = math.NaN()
		src = testhelper.NewScriptedSource(testhelper.ScriptedResult{Sample: bad})
	case "degenerate_transform":
		src = testhelper.NewScriptedSource(
			testhelper.ScriptedResult{Sample: transform.Sample{Translation: GoodSample.Translation}},
			testhelper.ScriptedResult{Sample: GoodSample},
		)
	default:
		src = testhelper.NewScriptedSource()
	}
	return Deps{
		Source:    src,
		Poses:     posefeed.New(),
		Publisher: &testhelper.RecordingPublisher{},
		Clock:     clock.NewMock(),
	}
}

// NewConfig returns a valid config for the test frames with the given config params.
func NewConfig(params map[string]string) *tagmapper.Config {
	return &tagmapper.Config{
		WorldFrame:   WorldFrame,
		SensorFrame:  SensorFrame,
		ConfigParams: params,
	}
}

// CreateTagMapperService creates a service against deps and closes it when the test ends.
func CreateTagMapperService(
	t *testing.T,
	cfg *tagmapper.Config,
	deps Deps,
	logger golog.Logger,
) *tagmapper.Service {
	t.Helper()

	svc, err := tagmapper.New(context.Background(), cfg, deps.Dependencies(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, svc, test.ShouldNotBeNil)
	t.Cleanup(func() {
		test.That(t, svc.Close(), test.ShouldBeNil)
	})
	return svc
}
