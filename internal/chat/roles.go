package chat

import (
	"context"

	"github.com/suPer8Hu/ai-stream/internal/generate"
)

const DefaultRoleID = "1"

// RoleCatalog resolves a session's role to its persona.
type RoleCatalog interface {
	Role(ctx context.Context, roleID string) (generate.RoleContext, bool)
}

// StaticRoles is an in-memory RoleCatalog.
type StaticRoles map[string]generate.RoleContext

func (r StaticRoles) Role(_ context.Context, roleID string) (generate.RoleContext, bool) {
	rc, ok := r[roleID]
	return rc, ok
}
