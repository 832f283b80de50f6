// Package dataapi implements the gRPC data plane that SDKs call to create
// sessions, engage events and read interactions.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rafaeljc/engage/internal/engagement"
	"github.com/rafaeljc/engage/internal/logger"
	"github.com/rafaeljc/engage/internal/session"
	"github.com/rafaeljc/engage/internal/validation"
)

// API implements DataPlaneServer on top of the session service.
type API struct {
	sessions *session.Service
}

var _ DataPlaneServer = (*API)(nil)

// NewAPI panics on a nil session service.
func NewAPI(sessions *session.Service) *API {
	validation.AssertNotNil(sessions, "session service")
	return &API{sessions: sessions}
}

// Register connects the API to grpcServer.
func (a *API) Register(grpcServer *grpc.Server) {
	RegisterDataPlaneServer(grpcServer, a)
}

// decode maps a Struct request onto a typed request through its JSON form.
func decode(in *structpb.Struct, dst any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encode is the inverse of decode for responses.
func encode(src any) (*structpb.Struct, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps service errors onto gRPC codes. Unexpected errors are logged
// and hidden behind a generic Internal message.
func toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, validation.ErrInvalidKey), errors.Is(err, session.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrUnknownApp):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engagement.ErrInvalidManifest):
		return status.Error(codes.FailedPrecondition, "published manifest is invalid")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "operation timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}

	logger.FromContext(ctx).Error("data plane operation failed", slog.String("error", err.Error()))
	return status.Error(codes.Internal, "internal error")
}
