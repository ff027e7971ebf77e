package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, 30*time.Second, 5*time.Second), mr
}

func TestHistoryCache_RoundTripAndTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	msgs := []model.Message{{ChatID: "c1", Role: model.RoleUser, Content: "hi"}}
	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c1", msgs))

	got, ok, err := c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", got[0].Content)

	key := "chat:history:" + tenantkey.Fingerprint("tenant-one-key-123") + ":c1"
	assert.True(t, mr.Exists(key), "raw tenant key must not appear in redis keys")
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	mr.FastForward(31 * time.Second)
	_, ok, err = c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCache_DeleteTenantOnlyTouchesThatTenant(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c1", nil))
	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c2", nil))
	require.NoError(t, c.SetHistory(ctx, "tenant-two-key-456", "c1", nil))

	require.NoError(t, c.DeleteTenant(ctx, "tenant-one-key-123"))

	assert.Len(t, mr.Keys(), 1)
	_, ok, err := c.GetHistory(ctx, "tenant-two-key-456", "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHistoryCache_DeleteHistory(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c1", nil))
	require.NoError(t, c.DeleteHistory(ctx, "tenant-one-key-123", "c1"))

	_, ok, err := c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCache_BrokenRedisSurfacesError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	c := NewHistoryCache(client, time.Second, time.Second)
	mr.Close()

	_, _, err = c.GetHistory(context.Background(), "tenant-one-key-123", "c1")
	assert.Error(t, err)
}

func TestHistoryCache_DirtyMarkerBlocksStaleFill(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	stale := []model.Message{{ChatID: "c1", Role: model.RoleUser, Content: "old"}}

	require.NoError(t, c.DeleteHistory(ctx, "tenant-one-key-123", "c1"))
	dirty, err := c.IsDirty(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c1", stale))
	_, ok, err := c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.False(t, ok, "fill while dirty must be refused")

	mr.FastForward(6 * time.Second)
	dirty, err = c.IsDirty(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, c.SetHistory(ctx, "tenant-one-key-123", "c1", stale))
	got, ok, err := c.GetHistory(ctx, "tenant-one-key-123", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "old", got[0].Content)
}

func TestHistoryCache_DeleteTenantClearsDirtyMarkers(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.DeleteHistory(ctx, "tenant-one-key-123", "c1"))
	require.NoError(t, c.DeleteHistory(ctx, "tenant-two-key-456", "c1"))

	require.NoError(t, c.DeleteTenant(ctx, "tenant-one-key-123"))

	assert.Equal(t, []string{"chat:dirty:" + tenantkey.Fingerprint("tenant-two-key-456") + ":c1"}, mr.Keys())
}
