package evaluator

import (
	"fmt"
	"time"

	"staywatch/internal/models"
)

// evalOccupancy 入住核验规则
// 将设备数读数与生效预订的预期人数做容差比较：
//   - 超出预期+容差：raise occupancy_mismatch（派对候选信号）
//   - 回落到容差内：clear occupancy_mismatch
//   - 预订窗口内核验通过：进入 OCCUPIED_VERIFIED
//   - 归零：启动确认窗口（防 WiFi 瞬断抖动），到期后转 VACANT
func (e *Evaluator) evalOccupancy(state *models.PropertyState, event *models.CanonicalEvent, bctx BookingContext, prop models.Property) []models.Intent {
	if event.DeviceCount == nil {
		return nil
	}
	count := *event.DeviceCount
	now := event.Timestamp

	var intents []models.Intent

	if count == 0 {
		// 归零不立即转 VACANT，先启动确认窗口
		if state.ZeroCountSince == nil {
			since := now
			state.ZeroCountSince = &since
		}
		return intents
	}

	// 有人在场，取消归零确认
	state.ZeroCountSince = nil

	if bctx.Active == nil {
		return intents
	}

	expected := bctx.Active.ExpectedCount
	tolerance := prop.DeviceCountTolerance

	if count > expected+tolerance {
		// 容差之外的超员：派对候选信号
		severity := 1
		if state.FindOpenAlert(models.AlertParty) != nil {
			severity = 2
		}
		intents = append(intents,
			models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
				Kind:     models.AlertOccupancyMismatch,
				Severity: severity,
				Message:  fmt.Sprintf("device count %d exceeds booking expectation %d (tolerance %d)", count, expected, tolerance),
				At:       now,
			}, now),
			models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
				Severity: severity,
				Message:  fmt.Sprintf("occupancy mismatch: %d devices, expected %d", count, expected),
			}, now),
		)
		return intents
	}

	// 容差内：清除已打开的超员报警
	if state.FindOpenAlert(models.AlertOccupancyMismatch) != nil {
		intents = append(intents, models.MustIntent(models.IntentClearAlert, state.PropertyID, models.AlertPayload{
			Kind: models.AlertOccupancyMismatch,
			At:   now,
		}, now))
	}

	// 预订窗口内核验通过
	if state.Phase != models.PhaseOccupiedVerified {
		intents = append(intents, models.MustIntent(models.IntentStateTransition, state.PropertyID, models.TransitionPayload{
			To: models.PhaseOccupiedVerified,
			At: now,
		}, now))
	}

	return intents
}

// checkVacantConfirmation 归零确认窗口复查
// 确认窗口内无人员回流则由 OCCUPIED_* 转 VACANT
func (e *Evaluator) checkVacantConfirmation(state *models.PropertyState, now time.Time, prop models.Property) []models.Intent {
	if state.ZeroCountSince == nil {
		return nil
	}
	if state.Phase != models.PhaseOccupiedVerified && state.Phase != models.PhaseOccupiedUnverified {
		return nil
	}

	window := time.Duration(prop.VacantConfirmMin) * time.Minute
	if now.Sub(*state.ZeroCountSince) < window {
		return nil
	}

	state.ZeroCountSince = nil
	return []models.Intent{
		models.MustIntent(models.IntentStateTransition, state.PropertyID, models.TransitionPayload{
			To: models.PhaseVacant,
			At: now,
		}, now),
	}
}
