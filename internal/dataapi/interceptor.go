package dataapi

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/observability"
)

// RequestIDHeader is the metadata key carrying the caller's request id.
const RequestIDHeader = "x-request-id"

// RequestLoggerInterceptor stores a logger tagged with the request id and
// method in the context, echoes the id back as a response header and logs
// every completed RPC at a level derived from its status code.
func RequestLoggerInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		id := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		log := base.With(slog.String("request_id", id), slog.String("rpc_method", info.FullMethod))
		ctx = logger.WithContext(ctx, log)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		log.Log(ctx, levelFor(code), "grpc request completed",
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
			slog.String("peer_addr", peerAddr(ctx)),
		)
		return resp, err
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal so one bad
// manifest cannot take the data plane down. Chain it after the logger so
// the panic is logged with the request id.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(ctx).Error("panic in grpc handler",
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// MetricsInterceptor records request counts and latency per method and
// status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		observability.DataPlaneGrpcDuration.WithLabelValues(info.FullMethod, code).Observe(time.Since(start).Seconds())
		observability.DataPlaneGrpcTotal.WithLabelValues(info.FullMethod, code).Inc()
		return resp, err
	}
}

// requestID returns the caller's id or mints one.
func requestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(RequestIDHeader); len(ids) > 0 && ids[0] != "" {
		return ids[0]
	}
	return uuid.NewString()
}

// levelFor keeps client mistakes at info and server faults at error.
func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
		return slog.LevelError
	case codes.DeadlineExceeded, codes.Unimplemented, codes.FailedPrecondition:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}
