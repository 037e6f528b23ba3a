package evaluator

import (
	"time"

	"staywatch/internal/models"
)

// evalTurnover 退房/翻台规则
// 预订到期且无新预订生效时由 OCCUPIED_* 转 TURNOVER；
// TURNOVER 到 VACANT 的转换由 checkout_complete 标签触发（见 rule_tags）
func (e *Evaluator) evalTurnover(state *models.PropertyState, bctx BookingContext, now time.Time) []models.Intent {
	if bctx.Active != nil {
		return nil
	}

	switch state.Phase {
	case models.PhaseOccupiedVerified, models.PhaseOccupiedUnverified:
	default:
		return nil
	}

	return []models.Intent{
		models.MustIntent(models.IntentStateTransition, state.PropertyID, models.TransitionPayload{
			To: models.PhaseTurnover,
			At: now,
		}, now),
		// 翻台期布防并关灯
		models.MustIntent(models.IntentCameraArm, state.PropertyID, models.CameraArmPayload{
			Armed: true,
		}, now),
		models.MustIntent(models.IntentLightScene, state.PropertyID, models.LightScenePayload{
			SceneID: "off",
		}, now),
	}
}
