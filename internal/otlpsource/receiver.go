package otlpsource

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

// Ingestor receives decoded OTLP payloads. Implementations must be
// thread-safe: Export may be called concurrently.
type Ingestor interface {
	ReceiveSpans(ctx context.Context, spans []*tracepb.ResourceSpans) error
	ReceiveMetrics(ctx context.Context, metrics []*metricspb.ResourceMetrics) error
}

// ReceiverConfig holds bind settings for the OTLP receiver.
type ReceiverConfig struct {
	Host string // e.g. "127.0.0.1"
	Port int    // 0 for ephemeral port assignment
}

// Receiver is the OTLP gRPC server feeding the store. Trace and metrics
// services share one endpoint.
type Receiver struct {
	listener   net.Listener
	grpcServer *grpc.Server
	logger     *zap.Logger
	stopOnce   sync.Once
	stopChan   chan struct{}
	stopDone   chan struct{}
}

// NewReceiver creates an OTLP gRPC server bound to the configured address.
func NewReceiver(cfg ReceiverConfig, ingestor Ingestor, logger *zap.Logger) (*Receiver, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(grpcServer, &traceService{ingestor: ingestor})
	collectormetrics.RegisterMetricsServiceServer(grpcServer, &metricsService{ingestor: ingestor})

	return &Receiver{
		listener:   listener,
		grpcServer: grpcServer,
		logger:     logger,
		stopChan:   make(chan struct{}),
		stopDone:   make(chan struct{}, 1),
	}, nil
}

// Start serves OTLP requests, blocking until Stop is called or the context
// is cancelled. Typically run in a goroutine.
func (r *Receiver) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopChan:
		}
	}()

	r.logger.Info("otlp receiver listening", zap.String("endpoint", r.Endpoint()))
	err := r.grpcServer.Serve(r.listener)
	r.stopDone <- struct{}{}
	return err
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.grpcServer.GracefulStop()
		close(r.stopChan)
	})
}

// StopWait stops the receiver and waits for shutdown to complete.
func (r *Receiver) StopWait() {
	r.Stop()
	<-r.stopDone
}

// Endpoint returns the actual listening address, useful with ephemeral
// ports.
func (r *Receiver) Endpoint() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	ingestor Ingestor
}

func (t *traceService) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if err := t.ingestor.ReceiveSpans(ctx, req.ResourceSpans); err != nil {
		return nil, fmt.Errorf("failed to receive spans: %w", err)
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	ingestor Ingestor
}

func (m *metricsService) Export(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if err := m.ingestor.ReceiveMetrics(ctx, req.ResourceMetrics); err != nil {
		return nil, fmt.Errorf("failed to receive metrics: %w", err)
	}
	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}
