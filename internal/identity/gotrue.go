// Package identity performs admin operations against the hosted auth
// platform (GoTrue).
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
)

// Admin is what the user service needs from the auth platform.
type Admin interface {
	DeleteUser(ctx context.Context, userID string) error
}

// GoTrue implements Admin with the service-role key.
type GoTrue struct {
	client gotrue.Client
}

// New builds an admin client. AdminURL may be a project URL
// (https://<ref>.supabase.co) or a full GoTrue URL ending in /auth/v1.
func New(cfg config.AuthConfig) (*GoTrue, error) {
	if cfg.AdminURL == "" || cfg.ServiceKey == "" {
		return nil, errors.New("identity: AUTH_ADMIN_URL and AUTH_SERVICE_KEY are required")
	}
	base := strings.TrimRight(cfg.AdminURL, "/")
	if !strings.HasSuffix(base, "/auth/v1") {
		base += "/auth/v1"
	}
	c := gotrue.New(projectRef(cfg.AdminURL), cfg.ServiceKey).
		WithCustomGoTrueURL(base).
		WithToken(cfg.ServiceKey)
	return &GoTrue{client: c}, nil
}

// DeleteUser removes the auth user. The GoTrue client is not context-aware;
// ctx is only checked before the call.
func (g *GoTrue) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("identity: user id is not a UUID: %w", err)
	}
	if err := g.client.AdminDeleteUser(types.AdminDeleteUserRequest{UserID: id}); err != nil {
		return fmt.Errorf("identity: delete user: %w", err)
	}
	return nil
}

// projectRef extracts the project reference from a hosted URL:
// https://abcd.supabase.co -> abcd.
func projectRef(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return strings.SplitN(u, ".", 2)[0]
}

// Noop accepts every deletion; used when no admin credentials are set.
type Noop struct{}

// DeleteUser does nothing.
func (Noop) DeleteUser(context.Context, string) error { return nil }
