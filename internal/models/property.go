package models

import (
	"fmt"
	"time"
)

// SiteType 站点类型
type SiteType string

const (
	SiteShortTerm SiteType = "short_term" // 短租
	SiteMidTerm   SiteType = "mid_term"   // 中租
)

// QuietHours 安静时段（跨午夜时 Start > End，如 22:00–07:00）
type QuietHours struct {
	Start string `yaml:"start" json:"start"` // "22:00"
	End   string `yaml:"end" json:"end"`     // "07:00"
}

// Contains 判断给定时刻的挂钟时间是否落在安静时段内
// 时区换算由调用方负责（见 Property.InQuietHours）
func (q QuietHours) Contains(t time.Time) bool {
	start, err1 := parseClock(q.Start)
	end, err2 := parseClock(q.End)
	if err1 != nil || err2 != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// 跨午夜
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value: %s", s)
	}
	return h*60 + m, nil
}

// Actuator 站点上注册的执行器（按厂家路由到 dispatcher 的 adapter）
type Actuator struct {
	Kind   string `yaml:"kind" json:"kind"`     // lock | light | camera | notify
	Vendor string `yaml:"vendor" json:"vendor"` // 厂家标识，如 "august", "hue"
}

// Property 站点配置（除配置重载外不可变）
type Property struct {
	PropertyID string   `yaml:"id" json:"property_id"`
	Name       string   `yaml:"name" json:"name"`
	SiteType   SiteType `yaml:"site_type" json:"site_type"`
	Timezone   string   `yaml:"timezone" json:"timezone"` // IANA 时区名，默认 UTC

	// 阈值配置
	NoiseLimitDB         float64    `yaml:"noise_limit_db" json:"noise_limit_db"`                   // 噪声上限（dB），默认 75
	QuietHours           QuietHours `yaml:"quiet_hours" json:"quiet_hours"`                         // 安静时段
	DeviceCountTolerance int        `yaml:"device_count_tolerance" json:"device_count_tolerance"`   // 设备数容差，默认 ±1
	PartyMinMinutes      int        `yaml:"party_min_minutes" json:"party_min_minutes"`             // 噪声持续判定（分钟），默认 10
	VacantGrantWindowMin int        `yaml:"vacant_grant_window_min" json:"vacant_grant_window_min"` // VACANT 下授权进入回溯窗口（分钟），默认 5
	VacantConfirmMin     int        `yaml:"vacant_confirm_min" json:"vacant_confirm_min"`           // 设备数归零确认窗口（分钟），默认 10
	EscalationIntervalMin int       `yaml:"escalation_interval_min" json:"escalation_interval_min"` // 报警升级复查间隔（分钟），默认 15
	MaxSeverity          int        `yaml:"max_severity" json:"max_severity"`                       // 最大报警级别，默认 3

	Actuators []Actuator `yaml:"actuators" json:"actuators"`
}

// InQuietHours 判断事件时刻是否落在站点本地时间的安静时段内
// 事件时间戳统一为 UTC，此处换算到站点时区再比较；
// 时区名无效时退回 UTC
func (p Property) InQuietHours(t time.Time) bool {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return p.QuietHours.Contains(t.In(loc))
}

// ApplyDefaults 为未配置的阈值填充默认值
func (p *Property) ApplyDefaults() {
	if p.SiteType == "" {
		p.SiteType = SiteShortTerm
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.NoiseLimitDB == 0 {
		p.NoiseLimitDB = 75
	}
	if p.QuietHours.Start == "" {
		p.QuietHours = QuietHours{Start: "22:00", End: "07:00"}
	}
	if p.DeviceCountTolerance == 0 {
		p.DeviceCountTolerance = 1
	}
	if p.PartyMinMinutes == 0 {
		p.PartyMinMinutes = 10
	}
	if p.VacantGrantWindowMin == 0 {
		p.VacantGrantWindowMin = 5
	}
	if p.VacantConfirmMin == 0 {
		p.VacantConfirmMin = 10
	}
	if p.EscalationIntervalMin == 0 {
		p.EscalationIntervalMin = 15
	}
	if p.MaxSeverity == 0 {
		p.MaxSeverity = 3
	}
}
