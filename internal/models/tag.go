package models

import (
	"time"
)

// TagRole 标签角色
// 角色只在服务端解析，标签 payload 本身不携带角色信息，
// 防止被盗标签通过自身内容提升权限
type TagRole string

const (
	RoleOwner            TagRole = "owner"
	RoleCleaner          TagRole = "cleaner"
	RoleMaintenance      TagRole = "maintenance"
	RoleEmergency        TagRole = "emergency"
	RoleGuestWelcome     TagRole = "guest_welcome"
	RoleQuietMode        TagRole = "quiet_mode"
	RoleLeaving          TagRole = "leaving"
	RoleCheckoutComplete TagRole = "checkout_complete"
)

// ValidityWindow 标签有效期窗口（显式值对象）
type ValidityWindow struct {
	From time.Time `yaml:"from" json:"from"`
	To   time.Time `yaml:"to" json:"to"`
}

// Contains 判断给定时刻是否在有效期内
func (w ValidityWindow) Contains(at time.Time) bool {
	return !at.Before(w.From) && at.Before(w.To)
}

// Tag 物理标签注册项
type Tag struct {
	TagID      string          `yaml:"id" json:"tag_id"`
	Role       TagRole         `yaml:"role" json:"role"`
	PropertyID string          `yaml:"property_id" json:"property_id,omitempty"` // 为空表示全站点有效（owner/emergency）
	Validity   *ValidityWindow `yaml:"validity" json:"validity,omitempty"`       // 为 nil 表示长期有效
}

// ValidAt 判断标签在给定时刻是否有效
// owner/emergency 标签不受有效期限制
func (t Tag) ValidAt(at time.Time) bool {
	if t.Role == RoleOwner || t.Role == RoleEmergency {
		return true
	}
	if t.Validity == nil {
		return true
	}
	return t.Validity.Contains(at)
}
