package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
)

const roleCacheVersionKey = "rbac:roles:version"

// RoleSource loads role definitions from the system of record.
type RoleSource interface {
	RolePermissions(ctx context.Context, roleType string) ([]RolePermission, error)
}

// CachedEntries serves role definitions from Redis. Role definitions are
// read-mostly; assignments are never cached. Writers call Invalidate,
// which bumps the version and orphans every cached definition.
type CachedEntries struct {
	source RoleSource
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedEntries wraps source with a Redis cache.
func NewCachedEntries(source RoleSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedEntries {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedEntries{source: source, client: client, ttl: ttl, logger: logger}
}

// PermissionEntries implements authz.EntrySource.
func (c *CachedEntries) PermissionEntries(ctx context.Context, assignment authz.RoleAssignment) ([]authz.PermissionEntry, error) {
	perms, err := c.RolePermissions(ctx, assignment.RoleType)
	if err != nil {
		return nil, err
	}
	return Entries(perms), nil
}

// RolePermissions returns the cached definition, loading it on a miss.
// Cache failures fall back to the source.
func (c *CachedEntries) RolePermissions(ctx context.Context, roleType string) ([]RolePermission, error) {
	if c.client == nil {
		return c.source.RolePermissions(ctx, roleType)
	}
	version, err := c.version(ctx)
	if err != nil {
		c.logger.Warn("role cache version", slog.Any("error", err))
		return c.source.RolePermissions(ctx, roleType)
	}
	key := fmt.Sprintf("rbac:role:%s:%d", roleType, version)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var perms []RolePermission
		if err := json.Unmarshal(raw, &perms); err == nil {
			return perms, nil
		}
		c.logger.Warn("role cache decode", slog.String("role", roleType))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("role cache get", slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		perms, err := c.source.RolePermissions(ctx, roleType)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(perms); err == nil {
			if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
				c.logger.Warn("role cache set", slog.Any("error", err))
			}
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]RolePermission), nil
}

// Invalidate drops every cached role definition.
func (c *CachedEntries) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, roleCacheVersionKey).Err(); err != nil {
		return fmt.Errorf("rbac: bump role cache: %w", err)
	}
	return nil
}

func (c *CachedEntries) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, roleCacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}
