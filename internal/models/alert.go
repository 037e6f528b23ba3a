package models

import (
	"time"
)

// AlertKind 报警类型
type AlertKind string

const (
	AlertParty                   AlertKind = "party"
	AlertOccupancyMismatch       AlertKind = "occupancy_mismatch"
	AlertUnauthorizedPresence    AlertKind = "unauthorized_presence"
	AlertSafety                  AlertKind = "safety"
	AlertConfigConflict          AlertKind = "config_conflict"          // 双重预订等配置冲突
	AlertMaintenanceUnauthorized AlertKind = "maintenance_unauthorized" // 保洁/维修标签超出有效期
	AlertVendorUnavailable       AlertKind = "vendor_unavailable"       // 厂家熔断
)

// Alert 站点报警
// severity 单调不减，直到显式清除；清除后归档（审计），不删除
type Alert struct {
	AlertID         string     `json:"alert_id"`
	PropertyID      string     `json:"property_id"`
	Kind            AlertKind  `json:"kind"`
	Severity        int        `json:"severity"` // 0..MaxSeverity
	RaisedAt        time.Time  `json:"raised_at"`
	LastEscalatedAt time.Time  `json:"last_escalated_at"`
	Cleared         bool       `json:"cleared"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// Escalate 将报警级别提升一级（不超过 max），并重置复查计时
// 返回级别是否实际提升
func (a *Alert) Escalate(max int, at time.Time) bool {
	if a.Cleared {
		return false
	}
	a.LastEscalatedAt = at
	if a.Severity >= max {
		return false
	}
	a.Severity++
	return true
}

// Clear 清除报警（幂等）
func (a *Alert) Clear(at time.Time) {
	if a.Cleared {
		return
	}
	a.Cleared = true
	cleared := at
	a.ClearedAt = &cleared
}

// DueForEscalation 判断报警是否超过复查间隔、应当升级
func (a *Alert) DueForEscalation(interval time.Duration, now time.Time) bool {
	if a.Cleared {
		return false
	}
	return now.Sub(a.LastEscalatedAt) >= interval
}
