package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staywatch/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Adapter 厂家执行器适配接口
// 厂家 quirk（如 ack 成功但未生效）隔离在 adapter 之内，
// 控制回路的正确性不依赖任何厂家的未文档化行为
type Adapter interface {
	// Vendor 厂家标识（熔断与并发限制按此分组）
	Vendor() string
	// Execute 执行指令，携带幂等键
	Execute(ctx context.Context, intent models.Intent) error
	// Verify 执行后复查实际状态；ack 可靠的厂家直接返回 nil
	Verify(ctx context.Context, intent models.Intent) error
}

// newVendorClient 创建厂家 HTTP 客户端
// 重试交给 dispatcher 统一控制，resty 自身不重试
func newVendorClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// classify 将 HTTP 结果归类为厂家错误
func classify(vendor string, resp *resty.Response, err error) error {
	if err != nil {
		// 网络层错误（超时、连接拒绝）视为瞬时
		return &VendorError{Vendor: vendor, Transient: true, Err: err}
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return &VendorError{Vendor: vendor, StatusCode: code, Transient: true, Err: fmt.Errorf("server error")}
	default:
		// 4xx：权限或非幂等冲突，不重试，立即上报
		return &VendorError{Vendor: vendor, StatusCode: code, Transient: false, Err: fmt.Errorf("rejected by vendor")}
	}
}

// LockAdapter 门锁厂家适配器
type LockAdapter struct {
	client *resty.Client
	vendor string
	logger *zap.Logger
}

// NewLockAdapter 创建门锁适配器
func NewLockAdapter(baseURL string, logger *zap.Logger) *LockAdapter {
	return &LockAdapter{
		client: newVendorClient(baseURL),
		vendor: "lock",
		logger: logger,
	}
}

func (a *LockAdapter) Vendor() string { return a.vendor }

// Execute 执行门锁指令（grant/revoke）
func (a *LockAdapter) Execute(ctx context.Context, intent models.Intent) error {
	var payload models.LockActionPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return &VendorError{Vendor: a.vendor, Transient: false, Err: err}
	}

	path := "/lock/grant"
	if payload.Action == "revoke" {
		path = "/lock/revoke"
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", intent.IdemKey).
		SetBody(map[string]interface{}{
			"property_id": intent.PropertyID,
			"code":        payload.Code,
			"valid_from":  payload.ValidFrom,
			"valid_to":    payload.ValidTo,
		}).
		Post(path)

	return classify(a.vendor, resp, err)
}

// Verify 复查门锁码是否实际下发
func (a *LockAdapter) Verify(ctx context.Context, intent models.Intent) error {
	var payload models.LockActionPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return &VendorError{Vendor: a.vendor, Transient: false, Err: err}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("property_id", intent.PropertyID).
		SetQueryParam("code", payload.Code).
		Get("/lock/status")

	return classify(a.vendor, resp, err)
}

// LightAdapter 灯光厂家适配器
type LightAdapter struct {
	client *resty.Client
	vendor string
	logger *zap.Logger
}

// NewLightAdapter 创建灯光适配器
func NewLightAdapter(baseURL string, logger *zap.Logger) *LightAdapter {
	return &LightAdapter{
		client: newVendorClient(baseURL),
		vendor: "light",
		logger: logger,
	}
}

func (a *LightAdapter) Vendor() string { return a.vendor }

// Execute 下发灯光场景
func (a *LightAdapter) Execute(ctx context.Context, intent models.Intent) error {
	var payload models.LightScenePayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return &VendorError{Vendor: a.vendor, Transient: false, Err: err}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", intent.IdemKey).
		SetBody(map[string]interface{}{
			"property_id": intent.PropertyID,
			"scene_id":    payload.SceneID,
		}).
		Post("/light/scene")

	return classify(a.vendor, resp, err)
}

// Verify 灯光厂家 ack 已知不可靠：复查当前场景
func (a *LightAdapter) Verify(ctx context.Context, intent models.Intent) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("property_id", intent.PropertyID).
		Get("/light/state")

	return classify(a.vendor, resp, err)
}

// CameraAdapter 摄像头厂家适配器
type CameraAdapter struct {
	client *resty.Client
	vendor string
	logger *zap.Logger
}

// NewCameraAdapter 创建摄像头适配器
func NewCameraAdapter(baseURL string, logger *zap.Logger) *CameraAdapter {
	return &CameraAdapter{
		client: newVendorClient(baseURL),
		vendor: "camera",
		logger: logger,
	}
}

func (a *CameraAdapter) Vendor() string { return a.vendor }

// Execute 摄像头布防/撤防
func (a *CameraAdapter) Execute(ctx context.Context, intent models.Intent) error {
	var payload models.CameraArmPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return &VendorError{Vendor: a.vendor, Transient: false, Err: err}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", intent.IdemKey).
		SetBody(map[string]interface{}{
			"property_id": intent.PropertyID,
			"armed":       payload.Armed,
		}).
		Post("/camera/arm")

	return classify(a.vendor, resp, err)
}

func (a *CameraAdapter) Verify(ctx context.Context, intent models.Intent) error {
	return nil
}

// NotifyAdapter 通知发送方适配器
// 业主/保洁通知的外部协作方契约：notify.send(property_id, severity, message)
type NotifyAdapter struct {
	client *resty.Client
	vendor string
	logger *zap.Logger
}

// NewNotifyAdapter 创建通知适配器
func NewNotifyAdapter(baseURL string, logger *zap.Logger) *NotifyAdapter {
	return &NotifyAdapter{
		client: newVendorClient(baseURL),
		vendor: "notify",
		logger: logger,
	}
}

func (a *NotifyAdapter) Vendor() string { return a.vendor }

// Execute 发送通知
func (a *NotifyAdapter) Execute(ctx context.Context, intent models.Intent) error {
	var payload models.NotifyPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return &VendorError{Vendor: a.vendor, Transient: false, Err: err}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", intent.IdemKey).
		SetBody(map[string]interface{}{
			"property_id": intent.PropertyID,
			"severity":    payload.Severity,
			"message":     payload.Message,
		}).
		Post("/notify/send")

	return classify(a.vendor, resp, err)
}

func (a *NotifyAdapter) Verify(ctx context.Context, intent models.Intent) error {
	return nil
}
