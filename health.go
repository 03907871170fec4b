package tagmapper

import (
	"net"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported on the gRPC health endpoint.
const HealthServiceName = "tag_mapper"

// healthReporter serves the standard gRPC health protocol. The tag mapper is SERVING while
// transform lookups succeed.
type healthReporter struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	logger     golog.Logger
	serveDone  chan struct{}

	mu      sync.Mutex
	serving bool
	known   bool
}

func newHealthReporter(address string, logger golog.Logger) (*healthReporter, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "error listening on %v", address)
	}
	hr := &healthReporter{
		listener:   listener,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		logger:     logger,
		serveDone:  make(chan struct{}),
	}
	hr.health.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(hr.grpcServer, hr.health)

	goutils.PanicCapturingGo(func() {
		defer close(hr.serveDone)
		if err := hr.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Errorw("health server stopped", "error", err)
		}
	})
	logger.Infow("health server listening", "address", listener.Addr().String())
	return hr, nil
}

// Addr returns the listening address.
func (hr *healthReporter) Addr() string {
	return hr.listener.Addr().String()
}

// setServing reports the transform state. Only changes are forwarded and logged.
func (hr *healthReporter) setServing(serving bool) {
	if hr == nil {
		return
	}
	hr.mu.Lock()
	defer hr.mu.Unlock()
	if hr.known && hr.serving == serving {
		return
	}
	hr.known = true
	hr.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hr.logger.Debugw("health status changed", "service", HealthServiceName, "status", status.String())
	hr.health.SetServingStatus(HealthServiceName, status)
}

// Close marks every service as not serving and stops the server.
func (hr *healthReporter) Close() {
	hr.health.Shutdown()
	hr.grpcServer.Stop()
	<-hr.serveDone
}
