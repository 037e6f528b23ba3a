package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"staywatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertArchive 报警归档接口（PostgreSQL 实现见 repository 包）
type AlertArchive interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	UpdateSeverity(ctx context.Context, alertID string, severity int, escalatedAt time.Time) error
	ClearAlert(ctx context.Context, alertID string, clearedAt time.Time) error
}

// Mirror 状态镜像接口（Redis 实现见 cache 包）
type Mirror interface {
	Put(ctx context.Context, state *models.PropertyState) error
	Get(ctx context.Context, propertyID string) (*models.PropertyState, error)
}

// History 启动恢复用的事件日志查询接口（PostgreSQL 实现见 repository 包）
type History interface {
	LatestGrantSince(ctx context.Context, propertyID string, since time.Time) (*models.LockEvent, error)
	ListReadings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.SensorReading, error)
}

// Store 站点状态存储
// PropertyState 与打开的 Alert 的唯一属主；
// 状态只经 worker 串行应用规则评估器/升级调度器产出的指令修改
type Store struct {
	mu      sync.RWMutex
	states  map[string]*models.PropertyState
	archive AlertArchive
	mirror  Mirror
	logger  *zap.Logger
}

// New 创建站点状态存储
func New(archive AlertArchive, mirror Mirror, logger *zap.Logger) *Store {
	return &Store{
		states:  make(map[string]*models.PropertyState),
		archive: archive,
		mirror:  mirror,
		logger:  logger,
	}
}

// GetOrCreate 获取站点状态，不存在时以 VACANT 初始化
// 返回的指针仅允许持有该站点的 worker 修改
func (s *Store) GetOrCreate(propertyID string, now time.Time) *models.PropertyState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.states[propertyID]; ok {
		return state
	}
	state := models.NewPropertyState(propertyID, now)
	s.states[propertyID] = state
	return state
}

// Rehydrate 启动时恢复站点状态：先采纳 Redis 镜像快照，
// 再从事件日志回补授权时刻与噪声窗口，重启不丢失规则的回溯依据。
// 恢复失败只记录日志，站点以 VACANT 初始状态继续
func (s *Store) Rehydrate(ctx context.Context, prop models.Property, history History, now time.Time) {
	state := s.GetOrCreate(prop.PropertyID, now)

	if s.mirror != nil {
		mirrored, err := s.mirror.Get(ctx, prop.PropertyID)
		if err != nil {
			s.logger.Warn("Failed to read state mirror",
				zap.String("property_id", prop.PropertyID),
				zap.Error(err),
			)
		} else if mirrored != nil {
			*state = *mirrored
		}
	}

	grantWindow := time.Duration(prop.VacantGrantWindowMin) * time.Minute
	grant, err := history.LatestGrantSince(ctx, prop.PropertyID, now.Add(-grantWindow))
	if err != nil {
		s.logger.Warn("Failed to restore last grant",
			zap.String("property_id", prop.PropertyID),
			zap.Error(err),
		)
	} else if grant != nil && (state.LastGrantAt == nil || grant.Timestamp.After(*state.LastGrantAt)) {
		ts := grant.Timestamp
		state.LastGrantAt = &ts
	}

	// 镜像里已有噪声窗口时不回补，避免样本重复
	if len(state.NoiseWindow) == 0 {
		sustain := time.Duration(prop.PartyMinMinutes) * time.Minute
		readings, err := history.ListReadings(ctx, prop.PropertyID, now.Add(-2*sustain), now)
		if err != nil {
			s.logger.Warn("Failed to restore noise window",
				zap.String("property_id", prop.PropertyID),
				zap.Error(err),
			)
		} else {
			for _, r := range readings {
				if r.NoiseDB != nil {
					state.NoiseWindow = append(state.NoiseWindow, models.NoiseSample{
						Timestamp: r.Timestamp,
						NoiseDB:   *r.NoiseDB,
					})
				}
			}
		}
	}

	s.logger.Info("Property state rehydrated",
		zap.String("property_id", prop.PropertyID),
		zap.String("phase", string(state.Phase)),
		zap.Int("open_alerts", len(state.OpenAlerts)),
	)
}

// Apply 应用单条状态变更指令（state_transition / raise_alert / clear_alert）
// 非法生命周期转换记录日志并忽略，从不使 worker 崩溃
func (s *Store) Apply(ctx context.Context, state *models.PropertyState, intent models.Intent) error {
	switch intent.Kind {
	case models.IntentStateTransition:
		var payload models.TransitionPayload
		if err := json.Unmarshal(intent.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal transition payload: %w", err)
		}
		if err := state.Transition(payload.To, payload.At); err != nil {
			s.logger.Warn("Ignoring invalid lifecycle transition",
				zap.String("property_id", state.PropertyID),
				zap.String("from", string(state.Phase)),
				zap.String("to", string(payload.To)),
			)
			return nil
		}
		s.logger.Info("Lifecycle transition applied",
			zap.String("property_id", state.PropertyID),
			zap.String("phase", string(state.Phase)),
		)

	case models.IntentRaiseAlert:
		var payload models.AlertPayload
		if err := json.Unmarshal(intent.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal alert payload: %w", err)
		}
		s.raiseAlert(ctx, state, payload)

	case models.IntentClearAlert:
		var payload models.AlertPayload
		if err := json.Unmarshal(intent.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal alert payload: %w", err)
		}
		s.clearAlert(ctx, state, payload)

	default:
		return fmt.Errorf("intent kind %s is not a state change", intent.Kind)
	}

	s.syncMirror(ctx, state)
	return nil
}

// raiseAlert 打开或升级报警
// 同类报警已打开时只提升级别（单调不减），不重复创建
func (s *Store) raiseAlert(ctx context.Context, state *models.PropertyState, payload models.AlertPayload) {
	existing := state.FindOpenAlert(payload.Kind)
	if existing != nil {
		if payload.Severity > existing.Severity {
			existing.Severity = payload.Severity
			existing.LastEscalatedAt = payload.At
			if err := s.archive.UpdateSeverity(ctx, existing.AlertID, existing.Severity, payload.At); err != nil {
				s.logger.Error("Failed to archive alert severity update",
					zap.String("alert_id", existing.AlertID),
					zap.Error(err),
				)
			}
		}
		return
	}

	alert := &models.Alert{
		AlertID:         uuid.New().String(),
		PropertyID:      state.PropertyID,
		Kind:            payload.Kind,
		Severity:        payload.Severity,
		RaisedAt:        payload.At,
		LastEscalatedAt: payload.At,
		Message:         payload.Message,
	}
	state.OpenAlerts = append(state.OpenAlerts, alert)

	if err := s.archive.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to archive alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}

	s.logger.Info("Alert raised",
		zap.String("property_id", state.PropertyID),
		zap.String("kind", string(alert.Kind)),
		zap.Int("severity", alert.Severity),
	)
}

// clearAlert 清除报警（幂等），归档后从打开列表移除
func (s *Store) clearAlert(ctx context.Context, state *models.PropertyState, payload models.AlertPayload) {
	alert := state.FindOpenAlert(payload.Kind)
	if alert == nil {
		return
	}

	alert.Clear(payload.At)
	state.RemoveAlert(alert.AlertID)

	if err := s.archive.ClearAlert(ctx, alert.AlertID, payload.At); err != nil {
		s.logger.Error("Failed to archive alert clear",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}

	s.logger.Info("Alert cleared",
		zap.String("property_id", state.PropertyID),
		zap.String("kind", string(alert.Kind)),
	)
}

// EscalateAlert 升级调度器经 worker 调用：提升报警级别并归档
// 返回级别是否实际提升
func (s *Store) EscalateAlert(ctx context.Context, state *models.PropertyState, alert *models.Alert, max int, now time.Time) bool {
	raised := alert.Escalate(max, now)
	if raised {
		if err := s.archive.UpdateSeverity(ctx, alert.AlertID, alert.Severity, now); err != nil {
			s.logger.Error("Failed to archive escalation",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
		s.syncMirror(ctx, state)
	}
	return raised
}

// SyncMirror 将状态快照推到 Redis 镜像（读数更新后由 worker 调用）
func (s *Store) SyncMirror(ctx context.Context, state *models.PropertyState) {
	s.syncMirror(ctx, state)
}

func (s *Store) syncMirror(ctx context.Context, state *models.PropertyState) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, state); err != nil {
		s.logger.Error("Failed to sync state mirror",
			zap.String("property_id", state.PropertyID),
			zap.Error(err),
		)
	}
}
