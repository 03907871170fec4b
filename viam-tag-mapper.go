package tagmapper

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/viamrobotics/viam-tag-mapper/marker"
	"github.com/viamrobotics/viam-tag-mapper/sensors/posefeed"
	"github.com/viamrobotics/viam-tag-mapper/sensors/tflookup"
	sensorutils "github.com/viamrobotics/viam-tag-mapper/sensors/utils"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

// Dependencies are the collaborators the service talks to. Nil fields are filled from the config:
// the static transform, a fresh pose feed, the configured publishers and the wall clock.
type Dependencies struct {
	Transforms tflookup.Source
	Poses      *posefeed.Feed
	Publisher  marker.Publisher
	Clock      clock.Clock
}

// Service runs the control loop that turns tag poses into map-frame markers.
type Service struct {
	worldFrame  string
	sensorFrame string
	poseTopic   string
	markerTopic string
	params      loopParams

	transforms tflookup.Source
	poses      *posefeed.Feed
	publisher  marker.Publisher
	clock      clock.Clock
	assembler  marker.Assembler
	health     *healthReporter

	// registry is only touched from the loop goroutine.
	registry *marker.Registry

	cancelFunc              func()
	logger                  golog.Logger
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a tag mapper service. The control loop is not started until StartMarkerProcess.
// Defaults are applied to a copy of cfg.
func New(ctx context.Context, cfg *Config, deps Dependencies, logger golog.Logger) (*Service, error) {
	_, span := trace.StartSpan(ctx, "tagmapper::New")
	defer span.End()

	cfgCopy := *cfg
	cfg = &cfgCopy
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tag mapper config")
	}
	params, err := cfg.loopParams(logger)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		worldFrame:  cfg.WorldFrame,
		sensorFrame: cfg.SensorFrame,
		poseTopic:   cfg.PoseTopic,
		markerTopic: cfg.MarkerTopic,
		params:      params,
		transforms:  deps.Transforms,
		poses:       deps.Poses,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		assembler:   marker.Assembler{Namespace: cfg.Namespace},
		registry:    marker.NewRegistry(),
		cancelFunc:  func() {},
		logger:      logger,
	}
	if svc.transforms == nil {
		if svc.transforms, err = cfg.staticSource(); err != nil {
			return nil, err
		}
	}
	if svc.poses == nil {
		svc.poses = posefeed.New()
	}
	if svc.clock == nil {
		svc.clock = clock.New()
	}
	if svc.publisher == nil {
		if svc.publisher, err = newPublisher(cfg, logger); err != nil {
			return nil, errors.Wrap(err, "error creating marker publishers")
		}
	}

	var success bool
	defer func() {
		if !success {
			if err := svc.Close(); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	if cfg.HealthAddress != "" {
		if svc.health, err = newHealthReporter(cfg.HealthAddress, logger); err != nil {
			return nil, errors.Wrap(err, "error starting health server")
		}
	}

	logger.Debugw("tag mapper configured",
		"pose_topic", svc.poseTopic,
		"marker_topic", svc.markerTopic,
		"world_frame", svc.worldFrame,
		"sensor_frame", svc.sensorFrame,
		"period", svc.params.period,
		"retry_delay", svc.params.retryDelay,
		"mount_offset_deg", svc.params.mountOffsetDeg,
	)
	success = true
	return svc, nil
}

func newPublisher(cfg *Config, logger golog.Logger) (marker.Publisher, error) {
	var pubs marker.Multi
	for _, kind := range cfg.Publishers {
		switch kind {
		case LogPublisher:
			pubs = append(pubs, &marker.LogPublisher{Logger: logger})
		case FilePublisher:
			fp, err := marker.NewFilePublisher(cfg.MarkerFile)
			if err != nil {
				return nil, err
			}
			pubs = append(pubs, fp)
		default:
			return nil, errors.Errorf("invalid publisher %v specified", kind)
		}
	}
	return pubs, nil
}

// RunCycleForTesting runs a single control loop cycle outside of the background loop.
func (svc *Service) RunCycleForTesting(ctx context.Context) bool {
	return svc.runCycle(ctx)
}

// Poses returns the feed inbound tag poses should be delivered to.
func (svc *Service) Poses() *posefeed.Feed {
	return svc.poses
}

// ReadPoses feeds the service from a YAML stream of tag pose documents until EOF or until ctx is
// done. Only documents for the configured pose topic are used.
func (svc *Service) ReadPoses(ctx context.Context, r io.Reader) error {
	return svc.poses.ReadYAML(ctx, r, svc.poseTopic, svc.sensorFrame, svc.logger)
}

// HealthAddress returns the address the health server listens on, or "" when disabled.
func (svc *Service) HealthAddress() string {
	if svc.health == nil {
		return ""
	}
	return svc.health.Addr()
}

// Close stops the control loop and releases the health server and publishers.
func (svc *Service) Close() error {
	svc.cancelFunc()
	svc.activeBackgroundWorkers.Wait()

	var err error
	if svc.health != nil {
		svc.health.Close()
	}
	if svc.publisher != nil {
		err = multierr.Append(err, errors.Wrap(svc.publisher.Close(), "error closing marker publisher"))
	}
	return err
}

// StartMarkerProcess starts the background control loop. Each tick of the service clock runs one
// cycle; when c is non-nil it receives a value after every cycle.
func (svc *Service) StartMarkerProcess(ctx context.Context, c chan int) {
	cancelCtx, cancelFunc := context.WithCancel(ctx)
	svc.cancelFunc = cancelFunc

	svc.activeBackgroundWorkers.Add(1)
	if err := cancelCtx.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			svc.logger.Errorw("unexpected error in tag mapper", "error", err)
		}
		svc.activeBackgroundWorkers.Done()
		return
	}
	goutils.PanicCapturingGo(func() {
		ticker := svc.clock.Ticker(svc.params.period)
		defer ticker.Stop()
		defer svc.activeBackgroundWorkers.Done()

		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
			}

			ok := svc.runCycle(cancelCtx)
			if c != nil {
				select {
				case c <- 1:
				case <-cancelCtx.Done():
					return
				}
			}
			if !ok && !svc.wait(cancelCtx, svc.params.retryDelay) {
				return
			}
		}
	})
}

// wait blocks for d on the service clock. It returns false if ctx ended first.
func (svc *Service) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := svc.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// latestTransform looks up the latest sensor to world sample and turns it into the homogeneous
// transform poses are mapped through.
func (svc *Service) latestTransform(ctx context.Context) (transform.Homogeneous, error) {
	sample, err := sensorutils.LookupLatest(ctx, svc.transforms, svc.worldFrame, svc.sensorFrame)
	if err != nil {
		return transform.Homogeneous{}, err
	}
	homTrans, err := transform.BuildFromSample(sample, svc.params.mountOffsetDeg)
	if err != nil {
		return transform.Homogeneous{}, errors.Wrap(err, "error building homogeneous transform")
	}
	return homTrans, nil
}

// runCycle drains pending tag poses, maps them through the latest sensor to world transform and
// publishes every marker. It returns false when no usable transform was available and the loop
// should back off before the next attempt. Pending poses are kept for that next attempt.
func (svc *Service) runCycle(ctx context.Context) bool {
	ctx, span := trace.StartSpan(ctx, "tagmapper::Service::runCycle")
	defer span.End()

	pending := svc.poses.Drain()

	homTrans, err := svc.latestTransform(ctx)
	if err != nil {
		if errors.Is(err, tflookup.ErrTransformUnavailable) {
			svc.logger.Warnw("transform not available yet, retrying", "error", err, "retry_delay", svc.params.retryDelay)
		} else {
			svc.logger.Errorw("error looking up transform", "error", err)
		}
		svc.poses.Restore(pending)
		svc.health.setServing(false)
		svc.publishAll(ctx)
		return false
	}
	svc.health.setServing(true)

	for _, tp := range pending {
		if tp.Frame != "" && tp.Frame != svc.sensorFrame {
			svc.logger.Warnw("dropping tag pose in unexpected frame", "id", tp.ID, "frame", tp.Frame, "expected", svc.sensorFrame)
			continue
		}
		mapped, err := transform.MapPose(tp.Pose, homTrans)
		if err != nil {
			svc.logger.Warnw("dropping tag pose", "id", tp.ID, "error", err)
			continue
		}
		svc.registry.Put(svc.assembler.Assemble(mapped, svc.worldFrame, tp.ID))
	}

	svc.publishAll(ctx)
	return true
}

func (svc *Service) publishAll(ctx context.Context) {
	for _, rec := range svc.registry.Records() {
		if err := svc.publisher.Publish(ctx, svc.markerTopic, rec); err != nil {
			svc.logger.Warnw("error publishing marker", "id", rec.ID, "error", err)
		}
	}
}
