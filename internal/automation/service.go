// Package automation exposes an automated console over gRPC so that other
// processes can submit commands and read their results. Messages are
// google.protobuf.Struct values, which keeps the service free of generated
// code.
package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/tracing"
)

const (
	ServiceName = "aura.automation.v1.Automation"

	executeMethod = "/" + ServiceName + "/Execute"
	statusMethod  = "/" + ServiceName + "/Status"
)

// Runner is the console the service drives. *console.Runner implements it.
type Runner interface {
	Exec(ctx context.Context, cmd string) (console.Completion, error)
	Status(ctx context.Context) (console.Status, error)
}

// AutomationServer is the server side of the Automation service.
type AutomationServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Automation service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AutomationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aura/automation/v1/automation.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomationServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomationServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomationServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomationServer).Status(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Service implements AutomationServer on top of a Runner.
type Service struct {
	runner Runner
	logger *slog.Logger
}

// New creates a service bound to runner.
func New(runner Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{runner: runner, logger: logger}
}

func (s *Service) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cmd := strings.TrimSpace(req.GetFields()["command"].GetStringValue())
	if cmd == "" {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}
	ctx, span := tracing.StartSpan(ctx, "automation.Execute", tracing.KindServer)
	span.WithAttributes(map[string]string{"command": cmd})
	res, err := s.runner.Exec(ctx, cmd)
	tracing.EndSpan(span, err)
	if err != nil && !errors.Is(err, shell.ErrUnexpectedExit) && !errors.Is(err, shell.ErrNotRunning) {
		return nil, toStatus(err)
	}
	out, serr := structpb.NewStruct(map[string]any{
		"command": res.Command,
		"output":  res.Output,
		"dir":     res.Dir,
	})
	if serr != nil {
		return nil, status.Error(codes.Internal, serr.Error())
	}
	if err != nil {
		// The command was consumed; report its output alongside the failure.
		s.logger.Warn("command did not complete", "cmd", cmd, "err", err)
		st, _ := status.New(status.Code(toStatus(err)), err.Error()).WithDetails(out)
		if st == nil {
			return nil, toStatus(err)
		}
		return nil, st.Err()
	}
	return out, nil
}

func (s *Service) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.runner.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"session": st.SessionID,
		"state":   st.State.String(),
		"dir":     st.Dir,
		"pending": st.Pending,
		"busy":    st.Busy,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, shell.ErrEmptyCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, shell.ErrCommandPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, shell.ErrNotRunning), errors.Is(err, console.ErrRunnerClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, shell.ErrUnexpectedExit):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Server bundles the gRPC server with its health service.
type Server struct {
	GRPC   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer registers svc, the health service and reflection on a new
// grpc.Server.
func NewServer(svc *Service, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = svc.logger
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(logInterceptor(logger)))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(gs)
	return &Server{GRPC: gs, health: hs, logger: logger}
}

// SetServing flips the health status reported for the service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Stop drains in-flight calls for up to timeout, then stops hard.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.GRPC.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.GRPC.Stop()
	}
}

func logInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc", "method", info.FullMethod, "code", status.Code(err).String(), "elapsed", time.Since(start))
		return resp, err
	}
}
