package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// IntentKind 指令类型
type IntentKind string

const (
	IntentStateTransition IntentKind = "state_transition"
	IntentRaiseAlert      IntentKind = "raise_alert"
	IntentClearAlert      IntentKind = "clear_alert"
	IntentLockAction      IntentKind = "lock_action"
	IntentLightScene      IntentKind = "light_scene"
	IntentCameraArm       IntentKind = "camera_arm"
	IntentNotify          IntentKind = "notify"
)

// IsStateChange 判断指令是否为状态/报警变更（在 worker 内部应用，不出站）
func (k IntentKind) IsStateChange() bool {
	switch k {
	case IntentStateTransition, IntentRaiseAlert, IntentClearAlert:
		return true
	}
	return false
}

// Intent 待执行指令
// 规则评估器产出的指令列表中，状态转换始终排在派生动作之前，
// 保证调度器与分发器观察到一致的状态
type Intent struct {
	Kind       IntentKind      `json:"kind"`
	PropertyID string          `json:"property_id"`
	Payload    json.RawMessage `json:"payload"`
	IdemKey    string          `json:"idem_key"` // 幂等键，抑制重复外部效果
}

// TransitionPayload 状态转换指令 payload
type TransitionPayload struct {
	To LifecyclePhase `json:"to"`
	At time.Time      `json:"at"`
}

// AlertPayload 报警指令 payload（raise/clear 共用）
type AlertPayload struct {
	AlertID  string    `json:"alert_id,omitempty"` // clear 时指定；raise 时由 store 分配
	Kind     AlertKind `json:"kind"`
	Severity int       `json:"severity,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// LockActionPayload 门锁指令 payload
type LockActionPayload struct {
	Action    string     `json:"action"` // grant | revoke
	Code      string     `json:"code"`
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// LightScenePayload 灯光场景指令 payload
type LightScenePayload struct {
	SceneID string `json:"scene_id"`
}

// CameraArmPayload 摄像头布防指令 payload
type CameraArmPayload struct {
	Armed bool `json:"armed"`
}

// NotifyPayload 通知指令 payload
type NotifyPayload struct {
	Severity int    `json:"severity"`
	Message  string `json:"message"`
}

// IdemBucket 幂等键的逻辑时间桶宽度
// 同一站点同类指令在同一桶内只产生一次外部效果
const IdemBucket = 5 * time.Minute

// NewIntent 构造指令并计算确定性幂等键
// 幂等键 = hash(property + kind + payload摘要 + 逻辑时间桶)
func NewIntent(kind IntentKind, propertyID string, payload interface{}, logical time.Time) (Intent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Intent{}, fmt.Errorf("failed to marshal intent payload: %w", err)
	}

	bucket := logical.Truncate(IdemBucket).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", propertyID, kind, raw, bucket)))

	return Intent{
		Kind:       kind,
		PropertyID: propertyID,
		Payload:    raw,
		IdemKey:    hex.EncodeToString(sum[:16]),
	}, nil
}

// MustIntent NewIntent 的便捷包装；payload 不可序列化属编程错误
func MustIntent(kind IntentKind, propertyID string, payload interface{}, logical time.Time) Intent {
	intent, err := NewIntent(kind, propertyID, payload, logical)
	if err != nil {
		panic(err)
	}
	return intent
}
