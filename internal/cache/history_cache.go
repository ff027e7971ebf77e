package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
)

// HistoryCache keeps the recent message window of a chat in Redis.
// Keys use the tenant fingerprint so raw keys never reach Redis.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

// setUnlessDirty writes KEYS[1] only while the dirty marker KEYS[2] is absent,
// so a window read before a concurrent append cannot land after its invalidation.
var setUnlessDirty = redisv9.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, tenant, chatID string) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, c.historyKey(tenant, chatID)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, tenant, chatID string, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	keys := []string{c.historyKey(tenant, chatID), c.dirtyKey(tenant, chatID)}
	if err := setUnlessDirty.Run(ctx, c.client, keys, payload, c.historyTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// DeleteHistory invalidates the cached window and marks the chat dirty, so
// readers that loaded the window earlier do not write it back.
func (c *HistoryCache) DeleteHistory(ctx context.Context, tenant, chatID string) error {
	if err := c.MarkDirty(ctx, tenant, chatID); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.historyKey(tenant, chatID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, tenant, chatID string) error {
	if err := c.client.Set(ctx, c.dirtyKey(tenant, chatID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, tenant, chatID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(tenant, chatID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

// DeleteTenant drops every cached chat window and dirty marker of a tenant.
func (c *HistoryCache) DeleteTenant(ctx context.Context, tenant string) error {
	fp := tenantkey.Fingerprint(tenant)
	var keys []string
	for _, pattern := range []string{"chat:history:" + fp + ":*", "chat:dirty:" + fp + ":*"} {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan history failed: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *HistoryCache) historyKey(tenant, chatID string) string {
	return fmt.Sprintf("chat:history:%s:%s", tenantkey.Fingerprint(tenant), chatID)
}

func (c *HistoryCache) dirtyKey(tenant, chatID string) string {
	return fmt.Sprintf("chat:dirty:%s:%s", tenantkey.Fingerprint(tenant), chatID)
}
