package aggregator

import (
	"context"
	"time"

	"staywatch/internal/cache"
	"staywatch/internal/config"
	"staywatch/internal/models"

	"go.uber.org/zap"
)

// PropertyOverview 单站点总览
type PropertyOverview struct {
	PropertyID     string                 `json:"property_id"`
	Name           string                 `json:"name"`
	Phase          models.LifecyclePhase  `json:"phase"`
	OpenAlertCount int                    `json:"open_alert_count"`
	MaxSeverity    int                    `json:"max_severity"`
	LastReading    models.ReadingSnapshot `json:"last_reading"`
	LastTransition time.Time              `json:"last_transition"`
	StateKnown     bool                   `json:"state_known"` // 镜像中是否有该站点的状态
}

// Aggregator 仪表盘聚合器
// 跨站点单一视图：逐站点拉取状态镜像的只读投影，
// 从不写入状态，不构成第二个状态写入方
type Aggregator struct {
	sites      *config.Sites
	stateCache *cache.StateCache
	logger     *zap.Logger
}

// New 创建仪表盘聚合器
func New(sites *config.Sites, stateCache *cache.StateCache, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		sites:      sites,
		stateCache: stateCache,
		logger:     logger,
	}
}

// Overview 拉取全部站点的总览
// 单站点读取失败不中断其余站点
func (a *Aggregator) Overview(ctx context.Context) []PropertyOverview {
	ids := a.sites.PropertyIDs()
	overviews := make([]PropertyOverview, 0, len(ids))

	for _, propertyID := range ids {
		prop, _ := a.sites.Property(propertyID)
		overview := PropertyOverview{
			PropertyID: propertyID,
			Name:       prop.Name,
			Phase:      models.PhaseVacant,
		}

		state, err := a.stateCache.Get(ctx, propertyID)
		if err != nil {
			a.logger.Error("Failed to read state mirror",
				zap.String("property_id", propertyID),
				zap.Error(err),
			)
			overviews = append(overviews, overview)
			continue
		}

		if state != nil {
			overview.StateKnown = true
			overview.Phase = state.Phase
			overview.OpenAlertCount = len(state.OpenAlerts)
			overview.LastReading = state.LastReading
			overview.LastTransition = state.LastTransitionAt
			for _, alert := range state.OpenAlerts {
				if alert.Severity > overview.MaxSeverity {
					overview.MaxSeverity = alert.Severity
				}
			}
		}

		overviews = append(overviews, overview)
	}

	return overviews
}
