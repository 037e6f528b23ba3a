package booking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"staywatch/internal/config"
	"staywatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFeed 预订日历假实现
type fakeFeed struct {
	bookings map[string][]models.Booking
	fail     map[string]bool
	calls    int
}

func (f *fakeFeed) ListBookings(_ context.Context, propertyID string, _, _ time.Time) ([]models.Booking, error) {
	f.calls++
	if f.fail[propertyID] {
		return nil, fmt.Errorf("feed unavailable")
	}
	return f.bookings[propertyID], nil
}

func writeSitesFile(t *testing.T) string {
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
	return path
}

func setupPoller(t *testing.T, feed *fakeFeed) *Poller {
	t.Helper()
	logger := zap.NewNop()
	sites, err := config.LoadSites(writeSitesFile(t), logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Booking.PollSeconds = 300
	return NewPoller(cfg, sites, feed, logger)
}

func TestPoller_Context(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
	b1 := models.Booking{BookingID: "b1", PropertyID: "villa-7", StartTime: t0, EndTime: t0.Add(48 * time.Hour), ExpectedCount: 4}

	feed := &fakeFeed{bookings: map[string][]models.Booking{"villa-7": {b1}}}
	p := setupPoller(t, feed)
	p.pollAll(context.Background())

	ctx := p.Context("villa-7", t0.Add(time.Hour))
	require.NotNil(t, ctx.Active)
	assert.Equal(t, "b1", ctx.Active.BookingID)
	assert.Empty(t, ctx.Conflicts)

	// 预订窗口外
	ctx = p.Context("villa-7", t0.Add(72*time.Hour))
	assert.Nil(t, ctx.Active)

	// 没有快照的站点
	ctx = p.Context("loft-12", t0)
	assert.Nil(t, ctx.Active)
}

func TestPoller_Context_ReportsConflicts(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
	b1 := models.Booking{BookingID: "b1", PropertyID: "villa-7", StartTime: t0, EndTime: t0.Add(48 * time.Hour)}
	b2 := models.Booking{BookingID: "b2", PropertyID: "villa-7", StartTime: t0.Add(24 * time.Hour), EndTime: t0.Add(72 * time.Hour)}

	p := setupPoller(t, &fakeFeed{})
	p.SetSnapshot("villa-7", []models.Booking{b2, b1})

	ctx := p.Context("villa-7", t0.Add(time.Hour))
	require.Len(t, ctx.Conflicts, 1)
	assert.Equal(t, "b1", ctx.Conflicts[0][0].BookingID)
	assert.Equal(t, "b2", ctx.Conflicts[0][1].BookingID)
}

func TestPoller_PollAll_FailureContained(t *testing.T) {
	t0 := time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC)
	b1 := models.Booking{BookingID: "b1", PropertyID: "loft-12", StartTime: t0, EndTime: t0.Add(24 * time.Hour)}

	// villa-7 拉取失败不影响 loft-12 的快照刷新
	feed := &fakeFeed{
		bookings: map[string][]models.Booking{"loft-12": {b1}},
		fail:     map[string]bool{"villa-7": true},
	}
	p := setupPoller(t, feed)
	p.pollAll(context.Background())

	assert.Equal(t, 2, feed.calls)
	ctx := p.Context("loft-12", t0.Add(time.Hour))
	require.NotNil(t, ctx.Active)
	assert.Equal(t, "b1", ctx.Active.BookingID)
}
