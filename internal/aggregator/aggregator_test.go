package aggregator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"staywatch/internal/cache"
	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func testSites(t *testing.T) *config.Sites {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yml")
	content := `
properties:
  - id: villa-7
    name: "Seaside Villa 7"
  - id: loft-12
    name: "Downtown Loft 12"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sites, err := config.LoadSites(path, zap.NewNop())
	require.NoError(t, err)
	return sites
}

func setupAggregator(t *testing.T) (*Aggregator, *cache.StateCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	stateCache := cache.NewStateCache(client, time.Hour, zap.NewNop())
	return New(testSites(t), stateCache, zap.NewNop()), stateCache
}

func TestAggregator_Overview(t *testing.T) {
	agg, stateCache := setupAggregator(t)
	t0 := time.Date(2026, 1, 13, 22, 30, 0, 0, time.UTC)

	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified
	state.OpenAlerts = []*models.Alert{
		{AlertID: "a1", Kind: models.AlertParty, Severity: 2},
		{AlertID: "a2", Kind: models.AlertOccupancyMismatch, Severity: 1},
	}
	require.NoError(t, stateCache.Put(context.Background(), state))

	overviews := agg.Overview(context.Background())
	require.Len(t, overviews, 2)

	byID := make(map[string]PropertyOverview)
	for _, o := range overviews {
		byID[o.PropertyID] = o
	}

	villa := byID["villa-7"]
	assert.True(t, villa.StateKnown)
	assert.Equal(t, models.PhaseOccupiedVerified, villa.Phase)
	assert.Equal(t, 2, villa.OpenAlertCount)
	assert.Equal(t, 2, villa.MaxSeverity)

	// 镜像中没有状态的站点按 VACANT 展示
	loft := byID["loft-12"]
	assert.False(t, loft.StateKnown)
	assert.Equal(t, models.PhaseVacant, loft.Phase)
	assert.Equal(t, 0, loft.OpenAlertCount)
}

// fakeArchive 固定报警归档
type fakeArchive struct {
	alerts map[string][]*models.Alert
}

func (f *fakeArchive) ListAlerts(_ context.Context, propertyID string, _, _ time.Time) ([]*models.Alert, error) {
	return f.alerts[propertyID], nil
}

func TestAggregator_ExportAlertAudit(t *testing.T) {
	agg, _ := setupAggregator(t)
	t0 := time.Date(2026, 1, 13, 22, 30, 0, 0, time.UTC)
	cleared := t0.Add(time.Hour)

	archive := &fakeArchive{alerts: map[string][]*models.Alert{
		"villa-7": {
			{AlertID: "a1", PropertyID: "villa-7", Kind: models.AlertParty, Severity: 2, RaisedAt: t0, LastEscalatedAt: t0, Cleared: true, ClearedAt: &cleared, Message: "sustained noise"},
		},
		"loft-12": {
			{AlertID: "a2", PropertyID: "loft-12", Kind: models.AlertSafety, Severity: 3, RaisedAt: t0, LastEscalatedAt: t0},
		},
	}}

	data, err := agg.ExportAlertAudit(context.Background(), archive, t0.Add(-time.Hour), t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Alert Audit")
	require.NoError(t, err)
	require.Len(t, rows, 3) // 表头 + 两条报警

	// 站点按ID排序导出：loft-12 在前
	assert.Equal(t, "Alert ID", rows[0][0])
	assert.Equal(t, "a2", rows[1][0])
	assert.Equal(t, "Downtown Loft 12", rows[1][1])
	assert.Equal(t, "No", rows[1][6])
	assert.Equal(t, "a1", rows[2][0])
	assert.Equal(t, "Seaside Villa 7", rows[2][1])
	assert.Equal(t, "Yes", rows[2][6])
}
