package models

import (
	"fmt"
	"time"
)

// LifecyclePhase 站点生命周期阶段
type LifecyclePhase string

const (
	PhaseVacant             LifecyclePhase = "VACANT"
	PhaseOccupiedVerified   LifecyclePhase = "OCCUPIED_VERIFIED"
	PhaseOccupiedUnverified LifecyclePhase = "OCCUPIED_UNVERIFIED"
	PhaseTurnover           LifecyclePhase = "TURNOVER"
	PhaseAlert              LifecyclePhase = "ALERT"
)

// ErrInvalidTransition 规则评估器收到与当前阶段不一致的转换请求
// 记录日志并忽略，不会使 worker 崩溃
type ErrInvalidTransition struct {
	From LifecyclePhase
	To   LifecyclePhase
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid lifecycle transition: %s -> %s", e.From, e.To)
}

// transitionTable 生命周期转换表
// 显式枚举合法转换，非法转换可静态列举、可测试
var transitionTable = map[LifecyclePhase][]LifecyclePhase{
	PhaseVacant:             {PhaseOccupiedVerified, PhaseOccupiedUnverified, PhaseAlert},
	PhaseOccupiedUnverified: {PhaseOccupiedVerified, PhaseVacant, PhaseTurnover, PhaseAlert},
	PhaseOccupiedVerified:   {PhaseOccupiedUnverified, PhaseVacant, PhaseTurnover, PhaseAlert},
	PhaseTurnover:           {PhaseVacant, PhaseOccupiedUnverified, PhaseAlert},
	PhaseAlert:              {PhaseVacant, PhaseOccupiedVerified, PhaseOccupiedUnverified, PhaseTurnover},
}

// CanTransition 判断生命周期转换是否合法
func CanTransition(from, to LifecyclePhase) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReadingSnapshot 最近一次读数快照（last-writer-by-timestamp）
type ReadingSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	NoiseDB     *float64  `json:"noise_db,omitempty"`
	DeviceCount *int      `json:"device_count,omitempty"`
	Motion      *bool     `json:"motion,omitempty"`
	Smoke       *bool     `json:"smoke,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
}

// Merge 按时间戳合并新读数：只有更高时间戳的读数影响当前快照
// 返回快照是否被更新
func (s *ReadingSnapshot) Merge(r ReadingSnapshot) bool {
	if !s.Timestamp.IsZero() && !r.Timestamp.After(s.Timestamp) {
		return false
	}
	s.Timestamp = r.Timestamp
	if r.NoiseDB != nil {
		s.NoiseDB = r.NoiseDB
	}
	if r.DeviceCount != nil {
		s.DeviceCount = r.DeviceCount
	}
	if r.Motion != nil {
		s.Motion = r.Motion
	}
	if r.Smoke != nil {
		s.Smoke = r.Smoke
	}
	if r.Temperature != nil {
		s.Temperature = r.Temperature
	}
	if r.Humidity != nil {
		s.Humidity = r.Humidity
	}
	return true
}

// NoiseSample 噪声滑动窗口样本
type NoiseSample struct {
	Timestamp time.Time `json:"timestamp"`
	NoiseDB   float64   `json:"noise_db"`
}

// PropertyState 站点状态记录（每站点恰好一条）
// 仅由规则评估器与升级调度器经 worker 串行修改，网关不得直接写入
type PropertyState struct {
	PropertyID       string          `json:"property_id"`
	Phase            LifecyclePhase  `json:"phase"`
	ActiveBookingID  string          `json:"active_booking_id,omitempty"`
	OpenAlerts       []*Alert        `json:"open_alerts"`
	LastReading      ReadingSnapshot `json:"last_reading"`
	BaselineReading  *ReadingSnapshot `json:"baseline_reading,omitempty"` // 保洁完成时的基线快照
	LastTransitionAt time.Time       `json:"last_transition_at"`

	// 规则评估器的去抖跟踪字段
	NoiseWindow       []NoiseSample `json:"noise_window,omitempty"`        // 噪声滑动窗口
	ZeroCountSince    *time.Time    `json:"zero_count_since,omitempty"`    // 设备数归零的起始时刻（确认窗口去抖）
	LastGrantAt       *time.Time    `json:"last_grant_at,omitempty"`       // 最近一次授权进入时刻
	QuietNoiseSince   *time.Time    `json:"quiet_noise_since,omitempty"`   // 噪声回落到阈值下的起始时刻（party 清除去抖）
}

// NewPropertyState 创建初始站点状态（VACANT）
func NewPropertyState(propertyID string, now time.Time) *PropertyState {
	return &PropertyState{
		PropertyID:       propertyID,
		Phase:            PhaseVacant,
		OpenAlerts:       []*Alert{},
		LastTransitionAt: now,
	}
}

// Transition 执行生命周期转换；非法转换返回 ErrInvalidTransition
func (s *PropertyState) Transition(to LifecyclePhase, at time.Time) error {
	if !CanTransition(s.Phase, to) {
		return &ErrInvalidTransition{From: s.Phase, To: to}
	}
	if s.Phase != to {
		s.Phase = to
		s.LastTransitionAt = at
	}
	return nil
}

// FindOpenAlert 查找指定类型的未清除报警；没有返回 nil
func (s *PropertyState) FindOpenAlert(kind AlertKind) *Alert {
	for _, a := range s.OpenAlerts {
		if a.Kind == kind && !a.Cleared {
			return a
		}
	}
	return nil
}

// RemoveAlert 从打开列表移除报警（清除后归档，不删除记录）
func (s *PropertyState) RemoveAlert(alertID string) {
	kept := s.OpenAlerts[:0]
	for _, a := range s.OpenAlerts {
		if a.AlertID != alertID {
			kept = append(kept, a)
		}
	}
	s.OpenAlerts = kept
}

// PruneNoiseWindow 丢弃窗口之外的噪声样本
func (s *PropertyState) PruneNoiseWindow(cutoff time.Time) {
	kept := s.NoiseWindow[:0]
	for _, sample := range s.NoiseWindow {
		if !sample.Timestamp.Before(cutoff) {
			kept = append(kept, sample)
		}
	}
	s.NoiseWindow = kept
}
