package evaluator

import (
	"fmt"
	"time"

	"staywatch/internal/models"

	"go.uber.org/zap"
)

// evalTagTap 标签驱动转换规则
// 标签经注册表解析为角色（角色只在服务端，标签 payload 不携带）：
//   - owner/emergency：任何阶段立即授权进入
//   - cleaner/maintenance：只在有效期窗口内授权，否则 denied + maintenance_unauthorized
//   - checkout_complete：TURNOVER → VACANT；其他阶段记录并忽略
func (e *Evaluator) evalTagTap(state *models.PropertyState, event *models.CanonicalEvent, bctx BookingContext, prop models.Property) Decision {
	now := event.Timestamp
	res := e.registry.Resolve(event.TagID, state.PropertyID, now)

	if !res.Known {
		e.logger.Warn("Unknown tag tapped",
			zap.String("property_id", state.PropertyID),
			zap.String("tag_id", event.TagID),
		)
		return Decision{LockRecord: e.deniedRecord(state, event, now)}
	}

	switch res.Tag.Role {
	case models.RoleOwner, models.RoleEmergency:
		// 无视生命周期阶段与有效期，立即授权
		return e.grantDecision(state, event, now, string(res.Tag.Role))

	case models.RoleCleaner, models.RoleMaintenance:
		if !res.Valid || !res.ForSite {
			return Decision{
				Intents: []models.Intent{
					models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
						Kind:     models.AlertMaintenanceUnauthorized,
						Severity: 1,
						Message:  fmt.Sprintf("%s tag %s outside validity window", res.Tag.Role, event.TagID),
						At:       now,
					}, now),
					models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
						Severity: 1,
						Message:  fmt.Sprintf("%s tag rejected at %s", res.Tag.Role, state.PropertyID),
					}, now),
				},
				LockRecord: e.deniedRecord(state, event, now),
			}
		}

		d := e.grantDecision(state, event, now, string(res.Tag.Role))
		// 翻台期的保洁进场：记录基线快照，供后续异常比较
		if state.Phase == models.PhaseTurnover && res.Tag.Role == models.RoleCleaner {
			baseline := state.LastReading
			state.BaselineReading = &baseline
		}
		return d

	case models.RoleGuestWelcome:
		if !res.Valid || !res.ForSite {
			return Decision{LockRecord: e.deniedRecord(state, event, now)}
		}
		d := e.grantDecision(state, event, now, string(res.Tag.Role))
		d.Intents = append(d.Intents,
			models.MustIntent(models.IntentLightScene, state.PropertyID, models.LightScenePayload{
				SceneID: "welcome",
			}, now),
			models.MustIntent(models.IntentCameraArm, state.PropertyID, models.CameraArmPayload{
				Armed: false,
			}, now),
		)
		return d

	case models.RoleQuietMode:
		return Decision{Intents: []models.Intent{
			models.MustIntent(models.IntentLightScene, state.PropertyID, models.LightScenePayload{
				SceneID: "quiet",
			}, now),
		}}

	case models.RoleLeaving:
		return Decision{Intents: []models.Intent{
			models.MustIntent(models.IntentCameraArm, state.PropertyID, models.CameraArmPayload{
				Armed: true,
			}, now),
			models.MustIntent(models.IntentLightScene, state.PropertyID, models.LightScenePayload{
				SceneID: "off",
			}, now),
		}}

	case models.RoleCheckoutComplete:
		if state.Phase != models.PhaseTurnover {
			// 阶段不一致的 checkout-complete：记录并忽略
			e.logger.Warn("Checkout-complete tap in unexpected phase",
				zap.String("property_id", state.PropertyID),
				zap.String("phase", string(state.Phase)),
			)
			return Decision{}
		}
		return Decision{Intents: []models.Intent{
			models.MustIntent(models.IntentStateTransition, state.PropertyID, models.TransitionPayload{
				To: models.PhaseVacant,
				At: now,
			}, now),
			models.MustIntent(models.IntentCameraArm, state.PropertyID, models.CameraArmPayload{
				Armed: true,
			}, now),
		}}
	}

	return Decision{LockRecord: e.deniedRecord(state, event, now)}
}

// grantDecision 授权进入：lock grant 指令 + granted 门锁记录
func (e *Evaluator) grantDecision(state *models.PropertyState, event *models.CanonicalEvent, now time.Time, actor string) Decision {
	grant := now
	state.LastGrantAt = &grant

	validTo := now.Add(1 * time.Hour)
	return Decision{
		Intents: []models.Intent{
			models.MustIntent(models.IntentLockAction, state.PropertyID, models.LockActionPayload{
				Action:    "grant",
				Code:      event.TagID,
				ValidFrom: &now,
				ValidTo:   &validTo,
			}, now),
		},
		LockRecord: &models.LockEvent{
			PropertyID:    state.PropertyID,
			Timestamp:     now,
			Actor:         actor + ":" + event.TagID,
			Outcome:       models.LockGranted,
			SourceEventID: event.SourceEventID,
		},
	}
}

// deniedRecord 拒绝进入的门锁记录
func (e *Evaluator) deniedRecord(state *models.PropertyState, event *models.CanonicalEvent, now time.Time) *models.LockEvent {
	return &models.LockEvent{
		PropertyID:    state.PropertyID,
		Timestamp:     now,
		Actor:         "tag:" + event.TagID,
		Outcome:       models.LockDenied,
		SourceEventID: event.SourceEventID,
	}
}
