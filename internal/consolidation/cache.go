package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "consol:view:version"

// ViewCache fronts the consolidated-report read path with a versioned
// Redis JSON cache. Every group or membership mutation bumps the version,
// orphaning all previously written keys. A nil cache (or nil client) is a
// pass-through that always runs the loader, so last_run semantics hold on
// every uncached call.
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewViewCache instantiates the cache helper.
func NewViewCache(client *redis.Client, ttl time.Duration) *ViewCache {
	return &ViewCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *ViewCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// ReportKey composes the cache key for one consolidated report view.
func (c *ViewCache) ReportKey(ctx context.Context, groupID int64, reportType ReportType, start, end string) (string, error) {
	parts := []string{"consol", "view", strconv.FormatInt(groupID, 10), string(reportType), start, end}
	if c == nil || c.client == nil {
		return strings.Join(parts, ":"), nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", strings.Join(parts, ":"), ver), nil
}

// Fetch loads a cached report or populates the key using the loader.
func (c *ViewCache) Fetch(ctx context.Context, key string, loader func(context.Context) (*ConsolidatedReport, error)) (*ConsolidatedReport, error) {
	if loader == nil {
		return nil, errors.New("consolidation: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var report ConsolidatedReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, err
		}
		return &report, nil
	}
	if err != redis.Nil {
		return nil, err
	}
	report, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// Bump invalidates all cached views by incrementing the global version.
func (c *ViewCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
