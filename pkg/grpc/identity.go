package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys set by the gateway from the trusted upstream identity headers.
const (
	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"

	// Trailer keys describing a rejected status transition.
	TrailerCurrentStatus   = "x-order-current-status"
	TrailerRequestedStatus = "x-order-requested-status"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// OwnerScope is the owner filter for lookups: admins see every order.
func (i Identity) OwnerScope() string {
	if i.IsAdmin() {
		return ""
	}
	return i.UserID
}

// WithIdentity attaches the caller to an outgoing request.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataUserID, id.UserID, MetadataUserRole, id.Role)
}

// NormalizeRole maps anything other than admin to customer.
func NormalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleCustomer
}

func identityFromContext(ctx context.Context) (Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Identity{}, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	var id Identity
	if v := md.Get(MetadataUserID); len(v) > 0 {
		id.UserID = strings.TrimSpace(v[0])
	}
	if id.UserID == "" {
		return Identity{}, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	role := ""
	if v := md.Get(MetadataUserRole); len(v) > 0 {
		role = v[0]
	}
	id.Role = NormalizeRole(role)
	return id, nil
}

func requireAdmin(ctx context.Context) (Identity, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !id.IsAdmin() {
		return Identity{}, status.Error(codes.PermissionDenied, "admin role required")
	}
	return id, nil
}
