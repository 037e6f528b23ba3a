package dispatcher

import (
	"fmt"
)

// VendorError 厂家调用错误
// Transient（超时/5xx）退避重试；永久错误（4xx）不重试，立即上报
type VendorError struct {
	Vendor     string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *VendorError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("vendor %s %s error (status %d): %v", e.Vendor, kind, e.StatusCode, e.Err)
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// ErrVendorUnavailable 厂家熔断中，调用被抑制
// 每个熔断窗口只通知业主一次，而非每次尝试都通知
type ErrVendorUnavailable struct {
	Vendor string
}

func (e *ErrVendorUnavailable) Error() string {
	return fmt.Sprintf("vendor %s unavailable (circuit open)", e.Vendor)
}
