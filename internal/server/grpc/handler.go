package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Introspect reports whether a session token is currently valid. An
// invalid token is not an error: the answer is {"active": false}.
func (s *GRPCServer) Introspect(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := req.GetValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		return structpb.NewStruct(map[string]any{"active": false})
	}

	fields := map[string]any{
		"active":   true,
		"username": claims.Username,
		"role":     string(claims.Role),
		"email":    claims.Email,
	}
	if claims.ExpiresAt != nil {
		fields["exp"] = claims.ExpiresAt.Unix()
	}
	return structpb.NewStruct(fields)
}

func (s *GRPCServer) GetProfile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, err := s.profiles.GetProfile(ctx, claimsFromContext(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	fields := map[string]any{
		"username":         p.Username,
		"email":            p.Email,
		"role":             string(p.Role),
		"twoFactorEnabled": p.TwoFactorEnabled,
		"createdAt":        p.CreatedAt.UTC().Format(time.RFC3339),
		"lastLogin":        nil,
	}
	if p.LastLogin != nil {
		fields["lastLogin"] = p.LastLogin.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(fields)
}

func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var verr *password.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidCredentials), errors.Is(err, common.ErrInvalidTwoFactorCode):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrTwoFactorAlreadyEnabled), errors.Is(err, common.ErrTwoFactorNotConfigured),
		errors.Is(err, common.ErrTwoFactorNotEnabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrInvalidOrExpiredResetToken):
		return status.Error(codes.InvalidArgument, "invalid or expired reset token")
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "user not found")
	}
	s.logger.Error(ctx, "rpc failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}
