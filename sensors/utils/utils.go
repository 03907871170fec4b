// Package utils contains helper functions for the sensor implementations.
package utils

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viamrobotics/viam-tag-mapper/sensors/tflookup"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

// LookupLatest fetches the latest sample carrying sensorFrame into worldFrame and rejects samples
// with non-finite values. Unavailability is returned unwrapped so callers can match it with
// errors.Is against tflookup.ErrTransformUnavailable.
func LookupLatest(ctx context.Context, src tflookup.Source, worldFrame, sensorFrame string) (transform.Sample, error) {
	ctx, span := trace.StartSpan(ctx, "sensors::utils::LookupLatest")
	defer span.End()

	sample, err := src.LookupTransform(ctx, worldFrame, sensorFrame, tflookup.Latest)
	if err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnavailable, Message: err.Error()})
		return transform.Sample{}, err
	}
	if err := sample.Validate(); err != nil {
		return transform.Sample{}, errors.Wrapf(err, "bad sample for %q -> %q", sensorFrame, worldFrame)
	}
	return sample, nil
}
