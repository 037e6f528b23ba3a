package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"staywatch/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SitesFile 站点/标签配置文件结构
type SitesFile struct {
	Properties []models.Property `yaml:"properties"`
	Tags       []models.Tag      `yaml:"tags"`
}

// Sites 站点配置持有者
// 阈值配置可热重载而不丢失运行中的 PropertyState：
// Reload 只替换配置快照，站点状态由 store 独立持有
type Sites struct {
	mu         sync.RWMutex
	path       string
	properties map[string]models.Property
	tags       []models.Tag
	modTime    time.Time
	onReload   func(tags []models.Tag)
	logger     *zap.Logger
}

// OnReload 注册热重载回调（标签注册表同步用）
// 必须在 WatchReload 启动前调用
func (s *Sites) OnReload(fn func(tags []models.Tag)) {
	s.mu.Lock()
	s.onReload = fn
	s.mu.Unlock()
}

// LoadSites 加载站点配置文件
func LoadSites(path string, logger *zap.Logger) (*Sites, error) {
	s := &Sites{
		path:   path,
		logger: logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload 重新加载配置文件并原子替换快照
func (s *Sites) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read sites file: %w", err)
	}

	var file SitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse sites file: %w", err)
	}

	properties := make(map[string]models.Property, len(file.Properties))
	for _, p := range file.Properties {
		if p.PropertyID == "" {
			return fmt.Errorf("property without id in sites file")
		}
		p.ApplyDefaults()
		properties[p.PropertyID] = p
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat sites file: %w", err)
	}

	s.mu.Lock()
	s.properties = properties
	s.tags = file.Tags
	s.modTime = info.ModTime()
	onReload := s.onReload
	s.mu.Unlock()

	if onReload != nil {
		onReload(file.Tags)
	}

	s.logger.Info("Sites configuration loaded",
		zap.String("path", s.path),
		zap.Int("property_count", len(properties)),
		zap.Int("tag_count", len(file.Tags)),
	)

	return nil
}

// WatchReload 定期检查文件修改时间，变化时热重载
func (s *Sites) WatchReload(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				s.logger.Warn("Failed to stat sites file", zap.Error(err))
				continue
			}

			s.mu.RLock()
			changed := info.ModTime().After(s.modTime)
			s.mu.RUnlock()

			if changed {
				if err := s.Reload(); err != nil {
					s.logger.Error("Failed to reload sites file", zap.Error(err))
				}
			}
		}
	}
}

// Property 按ID查找站点配置
func (s *Sites) Property(propertyID string) (models.Property, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[propertyID]
	return p, ok
}

// PropertyIDs 返回所有站点ID（稳定排序，导出与日志顺序确定）
func (s *Sites) PropertyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.properties))
	for id := range s.properties {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tags 返回标签注册表的当前快照
func (s *Sites) Tags() []models.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]models.Tag, len(s.tags))
	copy(tags, s.tags)
	return tags
}
