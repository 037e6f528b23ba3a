package models

import (
	"time"
)

// EventType 规范化事件类型
type EventType string

const (
	EventMotion      EventType = "motion"
	EventNoise       EventType = "noise"
	EventDeviceCount EventType = "device_count"
	EventSmoke       EventType = "smoke"
	EventTemperature EventType = "temperature"
	EventHumidity    EventType = "humidity"
	EventLockGrant   EventType = "lock_grant"
	EventLockDeny    EventType = "lock_deny"
	EventLockExpire  EventType = "lock_expire"
	EventTagTap      EventType = "tag_tap"
	EventBookingTick EventType = "booking_tick"    // 定时触发：检查预订到期/开始
	EventEscalation  EventType = "escalation_tick" // 定时触发：报警升级复查
)

// RawEvent 入站原始事件（webhook/MQTT payload 的统一外壳）
type RawEvent struct {
	Source        string    `json:"source"`          // 来源标识（厂家/采集器）
	SourceEventID string    `json:"source_event_id"` // 来源侧事件ID（用于去重）
	PropertyID    string    `json:"property_id"`
	Type          EventType `json:"type"`
	Timestamp     *int64    `json:"timestamp,omitempty"` // Unix 秒；缺失时由网关补到达时间
	TagID         string    `json:"tag_id,omitempty"`    // 仅 tag_tap 事件携带
	Actor         string    `json:"actor,omitempty"`     // 仅 lock_* 事件携带（使用的码/标签）

	// 传感器读数 payload（按 Type 取用）
	NoiseDB     *float64 `json:"noise_db,omitempty"`
	DeviceCount *int     `json:"device_count,omitempty"`
	Motion      *bool    `json:"motion,omitempty"`
	Smoke       *bool    `json:"smoke,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// CanonicalEvent 规范化事件（网关产出，规则评估器的唯一输入）
type CanonicalEvent struct {
	EventID         string    `json:"event_id"` // 服务端生成的 UUID
	Source          string    `json:"source"`
	SourceEventID   string    `json:"source_event_id"`
	PropertyID      string    `json:"property_id"`
	Type            EventType `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	ApproximateTime bool      `json:"approximate_time"` // 原始事件缺时间戳，以到达时间代替

	TagID string `json:"tag_id,omitempty"`
	Actor string `json:"actor,omitempty"`

	NoiseDB     *float64 `json:"noise_db,omitempty"`
	DeviceCount *int     `json:"device_count,omitempty"`
	Motion      *bool    `json:"motion,omitempty"`
	Smoke       *bool    `json:"smoke,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// IsSensorReading 判断是否为传感器读数类事件
func (e *CanonicalEvent) IsSensorReading() bool {
	switch e.Type {
	case EventMotion, EventNoise, EventDeviceCount, EventSmoke, EventTemperature, EventHumidity:
		return true
	}
	return false
}

// IsLockEvent 判断是否为门锁事件
func (e *CanonicalEvent) IsLockEvent() bool {
	switch e.Type {
	case EventLockGrant, EventLockDeny, EventLockExpire:
		return true
	}
	return false
}

// LockOutcome 门锁事件结果
type LockOutcome string

const (
	LockGranted LockOutcome = "granted"
	LockDenied  LockOutcome = "denied"
	LockExpired LockOutcome = "expired"
)

// LockOutcome 从事件类型映射门锁结果；非门锁事件返回空串
func (e *CanonicalEvent) LockOutcome() LockOutcome {
	switch e.Type {
	case EventLockGrant:
		return LockGranted
	case EventLockDeny:
		return LockDenied
	case EventLockExpire:
		return LockExpired
	}
	return ""
}

// SensorReading 传感器读数（追加写入时序日志）
type SensorReading struct {
	PropertyID    string    `json:"property_id"`
	Timestamp     time.Time `json:"timestamp"`
	NoiseDB       *float64  `json:"noise_db,omitempty"`
	DeviceCount   *int      `json:"device_count,omitempty"`
	Motion        *bool     `json:"motion,omitempty"`
	Smoke         *bool     `json:"smoke,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	SourceEventID string    `json:"source_event_id"`
}

// LockEvent 门锁事件（追加写入时序日志）
type LockEvent struct {
	PropertyID    string      `json:"property_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Actor         string      `json:"actor"`
	Outcome       LockOutcome `json:"outcome"`
	SourceEventID string      `json:"source_event_id"`
}
