package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

const (
	cacheVersionKey = "access:version"
	// BumpChannel carries the company ID whose grants changed; "0" means all.
	BumpChannel = "access.bump"
)

type freshReadsKey struct{}

// WithFreshReads marks ctx so a Cache reads through to the wrapped Reader and
// overwrites the cached entries it touches. Other readers ignore the mark.
func WithFreshReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshReadsKey{}, true)
}

func freshReads(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshReadsKey{}).(bool)
	return fresh
}

// Cache is a versioned Redis read-through cache in front of another Reader.
// Redis failures degrade to reading from the wrapped Reader.
type Cache struct {
	next   Reader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps next with Redis caching.
func NewCache(next Reader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, client: client, ttl: ttl, logger: logger}
}

// ActiveRoles implements Reader.
func (c *Cache) ActiveRoles(ctx context.Context, actorID, companyID int64) ([]Role, error) {
	var roles []Role
	err := c.fetch(ctx, []string{"roles", formatInt(companyID), formatInt(actorID)}, &roles, func(ctx context.Context) (any, error) {
		return c.next.ActiveRoles(ctx, actorID, companyID)
	})
	return roles, err
}

// RolePermissions implements Reader.
func (c *Cache) RolePermissions(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(roleIDs)
	slices.Sort(sorted)
	parts := make([]string, 0, len(sorted))
	for _, id := range slices.Compact(sorted) {
		parts = append(parts, formatInt(id))
	}
	var perms []Permission
	err := c.fetch(ctx, []string{"perms", strings.Join(parts, ",")}, &perms, func(ctx context.Context) (any, error) {
		return c.next.RolePermissions(ctx, roleIDs)
	})
	return perms, err
}

// EnabledModules implements Reader.
func (c *Cache) EnabledModules(ctx context.Context, companyID int64) ([]access.Module, error) {
	var mods []access.Module
	err := c.fetch(ctx, []string{"modules", formatInt(companyID)}, &mods, func(ctx context.Context) (any, error) {
		return c.next.EnabledModules(ctx, companyID)
	})
	return mods, err
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates cached entries and notifies listeners that grants of
// companyID changed. Zero means every company.
func (c *Cache) Bump(ctx context.Context, companyID int64) error {
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("directory: bump version: %w", err)
	}
	if err := c.client.Publish(ctx, BumpChannel, formatInt(companyID)).Err(); err != nil {
		return fmt.Errorf("directory: publish bump: %w", err)
	}
	return nil
}

// ListenForInvalidation subscribes to bump notifications and calls onBump
// with the affected company ID until ctx is cancelled.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(companyID int64)) error {
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("directory: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				companyID, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("directory: malformed bump payload", slog.String("payload", msg.Payload))
					continue
				}
				onBump(companyID)
			}
		}
	}()
	return nil
}

func (c *Cache) fetch(ctx context.Context, parts []string, dest any, loader func(context.Context) (any, error)) error {
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("directory: cache version", slog.Any("error", err))
		return c.load(ctx, "", dest, loader)
	}
	key := fmt.Sprintf("access:%s:%d", strings.Join(parts, ":"), ver)
	if freshReads(ctx) {
		return c.load(ctx, key, dest, loader)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("directory: cache get", slog.String("key", key), slog.Any("error", err))
		return c.load(ctx, "", dest, loader)
	}
	return c.load(ctx, key, dest, loader)
}

func (c *Cache) load(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if key != "" {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("directory: cache set", slog.String("key", key), slog.Any("error", err))
		}
	}
	return json.Unmarshal(raw, dest)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
