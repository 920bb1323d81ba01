package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"ForgeLedger/internal/command"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "forgeledger.v1.Ledger"

// ledgerService is the handler type checked by grpc.RegisterService.
type ledgerService interface {
	Execute(ctx context.Context, cmd command.Command) (*CommandResponse, error)
}

// MethodName is the gRPC method serving command kind k, e.g.
// "initiate_subscription" -> "InitiateSubscription".
func MethodName(k command.Kind) string {
	parts := strings.Split(k.String(), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// FullMethod is the path a client invokes for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes forgeledger.v1.Ledger: one method per command
// kind followed by the query and admin methods.
func ServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(command.AllKinds)+12)
	for _, k := range command.AllKinds {
		methods = append(methods, commandMethod(k))
	}
	methods = append(methods,
		unary("GetBalance", (*LedgerServer).GetBalance),
		unary("ListBalances", (*LedgerServer).ListBalances),
		unary("GetSettlement", (*LedgerServer).GetSettlement),
		unary("ListSettlements", (*LedgerServer).ListSettlements),
		unary("GetInstrument", (*LedgerServer).GetInstrument),
		unary("ListInstruments", (*LedgerServer).ListInstruments),
		unary("GetJournalHistory", (*LedgerServer).GetJournalHistory),
		unary("GetOperations", (*LedgerServer).GetOperations),
		unary("VerifyIntegrity", (*LedgerServer).VerifyIntegrity),
		unary("RebuildProjections", (*LedgerServer).RebuildProjections),
		unary("TakeSnapshot", (*LedgerServer).TakeSnapshot),
		unary("GetStatus", (*LedgerServer).GetStatus),
	)

	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ledgerService)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "forgeledger/v1/ledger.json",
	}
}

func commandMethod(k command.Kind) grpc.MethodDesc {
	name := MethodName(k)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			cmd, err := command.New(k)
			if err != nil {
				return nil, status.Error(codes.Unimplemented, err.Error())
			}
			if err := dec(cmd); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", k, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return srv.(*LedgerServer).Execute(ctx, req.(command.Command))
			}
			if interceptor == nil {
				return handler(ctx, cmd)
			}
			return interceptor(ctx, cmd, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, handler)
		},
	}
}

func unary[Req, Resp any](name string, call func(*LedgerServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			handler := func(ctx context.Context, r any) (any, error) {
				return call(srv.(*LedgerServer), ctx, r.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, handler)
		},
	}
}

// GRPCServer hosts the Ledger service, gRPC health and reflection.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, ledger *LedgerServer, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))

	desc := ServiceDesc()
	grpcServer.RegisterService(&desc, ledger)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		addr:       addr,
		logger:     logger,
	}
}

// SetServing flips the health status reported for the Ledger service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Start listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func logUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		ev := logger.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = logger.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}
