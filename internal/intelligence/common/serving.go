package common

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Wire contract
// ---------------------------------------------------------------------------

// The serving endpoint exposes a single schema-free method. Both sides of
// the call are structpb documents, so new tasks need no proto changes.
const (
	invokeFullMethod  = "/rxmi.serving.v1.ModelService/Invoke"
	healthServiceName = "rxmi.serving.v1.ModelService"
)

// Envelope field names shared with the serving side.
const (
	envFieldModel      = "model"
	envFieldTask       = "task"
	envFieldPayload    = "payload"
	envFieldMetadata   = "metadata"
	envFieldRaw        = "raw"
	envFieldStructured = "structured"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

const (
	defaultInvokeTimeout    = 60 * time.Second
	defaultMaxRecvBytes     = 16 << 20
	defaultKeepAliveTime    = 30 * time.Second
	defaultKeepAliveTimeout = 10 * time.Second
)

// BackendConfig holds the connection settings for a gRPC model backend.
type BackendConfig struct {
	Addr             string
	Timeout          time.Duration
	MaxRecvBytes     int
	KeepAliveTime    time.Duration
	KeepAliveTimeout time.Duration
}

func (c *BackendConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultInvokeTimeout
	}
	if c.MaxRecvBytes <= 0 {
		c.MaxRecvBytes = defaultMaxRecvBytes
	}
	if c.KeepAliveTime <= 0 {
		c.KeepAliveTime = defaultKeepAliveTime
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = defaultKeepAliveTimeout
	}
}

// ---------------------------------------------------------------------------
// gRPC backend
// ---------------------------------------------------------------------------

type grpcBackend struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	cfg    BackendConfig
	logger logging.Logger
	closed atomic.Bool
}

// NewGRPCBackend connects to a model serving endpoint. The dial is lazy;
// connectivity problems surface on the first Invoke or Healthy call.
func NewGRPCBackend(cfg BackendConfig, logger logging.Logger) (ModelBackend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New(errors.ErrCodeConfiguration, "model backend address is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	kp := keepalive.ClientParameters{
		Time:                cfg.KeepAliveTime,
		Timeout:             cfg.KeepAliveTimeout,
		PermitWithoutStream: true,
	}
	conn, err := grpc.Dial(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kp),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvBytes)),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to dial model backend")
	}

	b := &grpcBackend{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger.Named("serving"),
	}
	b.logger.Info("model backend configured", logging.String("addr", cfg.Addr))
	return b, nil
}

func (b *grpcBackend) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	if b.closed.Load() {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "model backend is closed")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	callCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	in := buildEnvelope(req)
	out := &structpb.Struct{}

	start := time.Now()
	if err := b.conn.Invoke(callCtx, invokeFullMethod, in, out); err != nil {
		b.logger.Warn("model invocation failed",
			logging.String("model", req.Model),
			logging.String("task", string(req.Task)),
			logging.Err(err),
		)
		return nil, translateCallError(err, req.Task)
	}

	resp := decodeEnvelope(out)
	resp.LatencyMs = time.Since(start).Milliseconds()
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

func (b *grpcBackend) Healthy(ctx context.Context) error {
	if b.closed.Load() {
		return errors.New(errors.ErrCodeServiceUnavailable, "model backend is closed")
	}
	resp, err := b.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: healthServiceName})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "model backend health check failed")
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return errors.Newf(errors.ErrCodeServiceUnavailable, "model backend not serving: %s", resp.GetStatus())
	}
	return nil
}

func (b *grpcBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.conn.Close()
}

// ---------------------------------------------------------------------------
// Envelope codec
// ---------------------------------------------------------------------------

func buildEnvelope(req *InvokeRequest) *structpb.Struct {
	fields := map[string]*structpb.Value{
		envFieldModel:   structpb.NewStringValue(req.Model),
		envFieldTask:    structpb.NewStringValue(string(req.Task)),
		envFieldPayload: structpb.NewStructValue(req.Payload),
	}
	if len(req.Metadata) > 0 {
		md := make(map[string]*structpb.Value, len(req.Metadata))
		for k, v := range req.Metadata {
			md[k] = structpb.NewStringValue(v)
		}
		fields[envFieldMetadata] = structpb.NewStructValue(&structpb.Struct{Fields: md})
	}
	return &structpb.Struct{Fields: fields}
}

func decodeEnvelope(out *structpb.Struct) *InvokeResponse {
	resp := &InvokeResponse{}
	if out == nil || len(out.GetFields()) == 0 {
		return resp
	}
	fields := out.GetFields()
	if v, ok := fields[envFieldModel]; ok {
		resp.Model = v.GetStringValue()
	}
	if v, ok := fields[envFieldRaw]; ok {
		resp.Raw = v.GetStringValue()
	}
	if v, ok := fields[envFieldStructured]; ok {
		if s := v.GetStructValue(); s != nil {
			resp.Structured = s
		}
	}
	if v, ok := fields[envFieldMetadata]; ok {
		if s := v.GetStructValue(); s != nil && len(s.GetFields()) > 0 {
			resp.Metadata = make(map[string]string, len(s.GetFields()))
			for k, f := range s.GetFields() {
				resp.Metadata[k] = f.GetStringValue()
			}
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Error translation
// ---------------------------------------------------------------------------

// translateCallError maps transport failures onto the engine's error codes,
// keyed by which capability the call exercised.
func translateCallError(err error, task TaskType) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, failureCode(task), "model invocation failed")
	}
	switch st.Code() {
	case codes.Unavailable, codes.Unimplemented:
		return errors.Wrap(err, unavailableCode(task), fmt.Sprintf("model backend unavailable: %s", st.Message()))
	case codes.DeadlineExceeded:
		return errors.Wrap(err, errors.ErrCodeTimeout, "model invocation timed out")
	case codes.Canceled:
		return errors.Wrap(err, errors.ErrCodeTimeout, "model invocation canceled")
	case codes.InvalidArgument:
		return errors.Wrap(err, errors.ErrCodeBadRequest, fmt.Sprintf("model backend rejected request: %s", st.Message()))
	case codes.ResourceExhausted:
		return errors.Wrap(err, errors.ErrCodeTooManyRequests, "model backend over capacity")
	default:
		return errors.Wrap(err, failureCode(task), fmt.Sprintf("model invocation failed: %s", st.Message()))
	}
}

func unavailableCode(task TaskType) errors.ErrorCode {
	if task == TaskScore {
		return errors.ErrCodeScoringUnavailable
	}
	return errors.ErrCodeGenerationUnavailable
}

func failureCode(task TaskType) errors.ErrorCode {
	if task == TaskScore {
		return errors.ErrCodeScoringFailed
	}
	return errors.ErrCodeGenerationFailed
}
