package registry

import (
	"sync"
	"time"

	"staywatch/internal/models"
)

// Resolution 标签解析结果
type Resolution struct {
	Tag     models.Tag
	Known   bool // 标签是否已注册
	Valid   bool // 是否在有效期内（owner/emergency 恒为 true）
	ForSite bool // 是否对目标站点有效
}

// Registry 标签注册表
// 物理标签ID到角色与有效期的静态映射，角色只在服务端解析
type Registry struct {
	mu   sync.RWMutex
	tags map[string]models.Tag
}

// New 创建标签注册表
func New(tags []models.Tag) *Registry {
	r := &Registry{}
	r.Replace(tags)
	return r
}

// Replace 替换全部注册项（配置热重载时调用）
func (r *Registry) Replace(tags []models.Tag) {
	m := make(map[string]models.Tag, len(tags))
	for _, t := range tags {
		m[t.TagID] = t
	}
	r.mu.Lock()
	r.tags = m
	r.mu.Unlock()
}

// Resolve 解析标签在给定站点、给定时刻的有效性
// 未注册标签返回 Known=false；调用方应产生 denied LockEvent
func (r *Registry) Resolve(tagID, propertyID string, at time.Time) Resolution {
	r.mu.RLock()
	tag, ok := r.tags[tagID]
	r.mu.RUnlock()

	if !ok {
		return Resolution{Known: false}
	}

	forSite := tag.PropertyID == "" || tag.PropertyID == propertyID

	return Resolution{
		Tag:     tag,
		Known:   true,
		Valid:   tag.ValidAt(at),
		ForSite: forSite,
	}
}

// Len 返回注册项数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tags)
}
