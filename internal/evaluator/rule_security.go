package evaluator

import (
	"fmt"
	"time"

	"staywatch/internal/models"
)

// evalVacantSecurity 空置安防规则
// VACANT 下出现移动读数且回溯窗口内无授权进入：
// raise unauthorized_presence（初始级别 1）；
// 后续佐证读数（继续移动、仍无授权进入）每次提升一级直到上限。
func (e *Evaluator) evalVacantSecurity(state *models.PropertyState, event *models.CanonicalEvent, prop models.Property) []models.Intent {
	if event.Motion == nil || !*event.Motion {
		return nil
	}
	if state.Phase != models.PhaseVacant {
		return nil
	}
	now := event.Timestamp

	// 回溯窗口内有授权进入则视为正常
	window := time.Duration(prop.VacantGrantWindowMin) * time.Minute
	if state.LastGrantAt != nil && now.Sub(*state.LastGrantAt) <= window {
		return nil
	}

	severity := 1
	if existing := state.FindOpenAlert(models.AlertUnauthorizedPresence); existing != nil {
		severity = existing.Severity + 1
		if severity > prop.MaxSeverity {
			severity = prop.MaxSeverity
		}
	}

	return []models.Intent{
		models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
			Kind:     models.AlertUnauthorizedPresence,
			Severity: severity,
			Message:  fmt.Sprintf("motion while vacant, no authorized entry within %d min", prop.VacantGrantWindowMin),
			At:       now,
		}, now),
		models.MustIntent(models.IntentCameraArm, state.PropertyID, models.CameraArmPayload{
			Armed: true,
		}, now),
		models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
			Severity: severity,
			Message:  fmt.Sprintf("unauthorized presence suspected at %s", state.PropertyID),
		}, now),
	}
}

// evalSafety 安全事件规则（烟雾）
// 烟雾信号无条件 raise safety（最高优先级），解除时清除
func (e *Evaluator) evalSafety(state *models.PropertyState, event *models.CanonicalEvent, prop models.Property) []models.Intent {
	if event.Smoke == nil {
		return nil
	}
	now := event.Timestamp

	if *event.Smoke {
		if state.FindOpenAlert(models.AlertSafety) != nil {
			return nil
		}
		return []models.Intent{
			models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
				Kind:     models.AlertSafety,
				Severity: prop.MaxSeverity,
				Message:  "smoke detected",
				At:       now,
			}, now),
			models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
				Severity: prop.MaxSeverity,
				Message:  fmt.Sprintf("smoke detected at %s", state.PropertyID),
			}, now),
		}
	}

	if state.FindOpenAlert(models.AlertSafety) != nil {
		return []models.Intent{
			models.MustIntent(models.IntentClearAlert, state.PropertyID, models.AlertPayload{
				Kind: models.AlertSafety,
				At:   now,
			}, now),
		}
	}

	return nil
}

// evalAuthorizedEntry 授权进入处理
// 记录进入时刻；授权进入即清除 unauthorized_presence；
// VACANT 下的授权进入转 OCCUPIED_UNVERIFIED（等待设备数核验）
func (e *Evaluator) evalAuthorizedEntry(state *models.PropertyState, event *models.CanonicalEvent) []models.Intent {
	now := event.Timestamp
	grant := now
	state.LastGrantAt = &grant

	var intents []models.Intent

	if state.FindOpenAlert(models.AlertUnauthorizedPresence) != nil {
		intents = append(intents, models.MustIntent(models.IntentClearAlert, state.PropertyID, models.AlertPayload{
			Kind: models.AlertUnauthorizedPresence,
			At:   now,
		}, now))
	}

	if state.Phase == models.PhaseVacant {
		intents = append(intents, models.MustIntent(models.IntentStateTransition, state.PropertyID, models.TransitionPayload{
			To: models.PhaseOccupiedUnverified,
			At: now,
		}, now))
	}

	return intents
}
