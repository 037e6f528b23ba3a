package cache

import (
	"context"
	"testing"
	"time"

	"staywatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCache(t *testing.T) (*StateCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStateCache(client, time.Hour, zap.NewNop()), mr
}

func TestStateCache_PutGet(t *testing.T) {
	c, mr := setupCache(t)
	t0 := time.Date(2026, 1, 13, 22, 30, 0, 0, time.UTC)

	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified
	state.OpenAlerts = []*models.Alert{{
		AlertID:  "a1",
		Kind:     models.AlertParty,
		Severity: 2,
	}}

	require.NoError(t, c.Put(context.Background(), state))
	assert.True(t, mr.Exists("staywatch:property:villa-7:state"))

	got, err := c.Get(context.Background(), "villa-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.PhaseOccupiedVerified, got.Phase)
	require.Len(t, got.OpenAlerts, 1)
	assert.Equal(t, 2, got.OpenAlerts[0].Severity)
}

func TestStateCache_GetMissingReturnsNil(t *testing.T) {
	c, _ := setupCache(t)

	got, err := c.Get(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStateCache_PutSetsTTL(t *testing.T) {
	c, mr := setupCache(t)

	state := models.NewPropertyState("villa-7", time.Now())
	require.NoError(t, c.Put(context.Background(), state))

	assert.Greater(t, mr.TTL("staywatch:property:villa-7:state"), time.Duration(0))
}
