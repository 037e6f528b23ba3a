package evaluator

import (
	"fmt"
	"time"

	"staywatch/internal/models"
)

// evalParty 派对检测规则
// 维护噪声滑动窗口：噪声在安静时段内持续超限达到配置时长后
// raise party 报警；与超员信号并发为真时，合并信号的级别高于单一信号。
// 噪声回落并持续低于阈值同样时长后清除。
func (e *Evaluator) evalParty(state *models.PropertyState, event *models.CanonicalEvent, bctx BookingContext, prop models.Property) []models.Intent {
	if event.NoiseDB == nil {
		return nil
	}
	noise := *event.NoiseDB
	now := event.Timestamp
	sustain := time.Duration(prop.PartyMinMinutes) * time.Minute

	// 滑动窗口保留两倍判定时长的样本
	state.NoiseWindow = append(state.NoiseWindow, models.NoiseSample{Timestamp: now, NoiseDB: noise})
	state.PruneNoiseWindow(now.Add(-2 * sustain))

	var intents []models.Intent

	if noise >= prop.NoiseLimitDB {
		state.QuietNoiseSince = nil

		if !prop.InQuietHours(now) {
			// 安静时段外不判定派对
			return nil
		}
		if !e.noiseSustained(state, now, sustain, prop.NoiseLimitDB) {
			return nil
		}

		// 合并信号：超员并发为真时级别更高
		severity := 1
		if state.FindOpenAlert(models.AlertOccupancyMismatch) != nil {
			severity = 2
		}

		existing := state.FindOpenAlert(models.AlertParty)
		if existing != nil && existing.Severity >= severity {
			return nil
		}

		intents = append(intents,
			models.MustIntent(models.IntentRaiseAlert, state.PropertyID, models.AlertPayload{
				Kind:     models.AlertParty,
				Severity: severity,
				Message:  fmt.Sprintf("noise %.0f dB sustained over %d min during quiet hours", noise, prop.PartyMinMinutes),
				At:       now,
			}, now),
			models.MustIntent(models.IntentNotify, state.PropertyID, models.NotifyPayload{
				Severity: severity,
				Message:  fmt.Sprintf("possible party at %s: sustained %.0f dB", state.PropertyID, noise),
			}, now),
		)
		return intents
	}

	// 噪声低于阈值：持续回落达到判定时长后清除派对报警
	if state.QuietNoiseSince == nil {
		since := now
		state.QuietNoiseSince = &since
	}

	if state.FindOpenAlert(models.AlertParty) != nil && now.Sub(*state.QuietNoiseSince) >= sustain {
		intents = append(intents, models.MustIntent(models.IntentClearAlert, state.PropertyID, models.AlertPayload{
			Kind: models.AlertParty,
			At:   now,
		}, now))
	}

	return intents
}

// noiseSustained 判断最近 sustain 时长内噪声是否持续超限
// 要求窗口内全部样本超限且覆盖时长不小于 sustain
func (e *Evaluator) noiseSustained(state *models.PropertyState, now time.Time, sustain time.Duration, limit float64) bool {
	cutoff := now.Add(-sustain)
	var oldest time.Time

	for _, sample := range state.NoiseWindow {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		if sample.NoiseDB < limit {
			return false
		}
		if oldest.IsZero() || sample.Timestamp.Before(oldest) {
			oldest = sample.Timestamp
		}
	}

	if oldest.IsZero() {
		return false
	}

	// 窗口边界上的样本也要追溯：cutoff 之前最后一个样本若同样超限，
	// 说明超限区间早于窗口起点，覆盖时长达标；
	// 该位置若是回落样本则持续性已被打断
	var boundary *models.NoiseSample
	for i := range state.NoiseWindow {
		sample := &state.NoiseWindow[i]
		if !sample.Timestamp.Before(cutoff) {
			continue
		}
		if boundary == nil || sample.Timestamp.After(boundary.Timestamp) {
			boundary = sample
		}
	}
	if boundary != nil && boundary.NoiseDB >= limit {
		return true
	}

	return now.Sub(oldest) >= sustain
}
