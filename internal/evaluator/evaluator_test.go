package evaluator

import (
	"encoding/json"
	"testing"
	"time"

	"staywatch/internal/models"
	"staywatch/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProperty() models.Property {
	p := models.Property{PropertyID: "villa-7", Name: "Seaside Villa 7"}
	p.ApplyDefaults()
	return p
}

func testRegistry() *registry.Registry {
	window := &models.ValidityWindow{
		From: time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC),
	}
	return registry.New([]models.Tag{
		{TagID: "tag-owner", Role: models.RoleOwner},
		{TagID: "tag-cleaner", Role: models.RoleCleaner, PropertyID: "villa-7", Validity: window},
		{TagID: "tag-welcome", Role: models.RoleGuestWelcome, PropertyID: "villa-7"},
		{TagID: "tag-quiet", Role: models.RoleQuietMode, PropertyID: "villa-7"},
		{TagID: "tag-leaving", Role: models.RoleLeaving, PropertyID: "villa-7"},
		{TagID: "tag-checkout", Role: models.RoleCheckoutComplete, PropertyID: "villa-7"},
	})
}

func newTestEvaluator() *Evaluator {
	return New(testRegistry(), zap.NewNop())
}

func activeBooking(at time.Time, expected int) BookingContext {
	return BookingContext{
		Active: &models.Booking{
			BookingID:     "b1",
			PropertyID:    "villa-7",
			StartTime:     at.Add(-24 * time.Hour),
			EndTime:       at.Add(24 * time.Hour),
			ExpectedCount: expected,
		},
	}
}

func countEvent(at time.Time, count int) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		EventID:     "e-count",
		PropertyID:  "villa-7",
		Type:        models.EventDeviceCount,
		Timestamp:   at,
		DeviceCount: &count,
	}
}

func noiseEvent(at time.Time, db float64) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		EventID:    "e-noise",
		PropertyID: "villa-7",
		Type:       models.EventNoise,
		Timestamp:  at,
		NoiseDB:    &db,
	}
}

func motionEvent(at time.Time) *models.CanonicalEvent {
	motion := true
	return &models.CanonicalEvent{
		EventID:    "e-motion",
		PropertyID: "villa-7",
		Type:       models.EventMotion,
		Timestamp:  at,
		Motion:     &motion,
	}
}

func smokeEvent(at time.Time, smoke bool) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		EventID:    "e-smoke",
		PropertyID: "villa-7",
		Type:       models.EventSmoke,
		Timestamp:  at,
		Smoke:      &smoke,
	}
}

func tagEvent(at time.Time, tagID string) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		EventID:       "e-tag",
		SourceEventID: "src-tag-1",
		PropertyID:    "villa-7",
		Type:          models.EventTagTap,
		Timestamp:     at,
		TagID:         tagID,
	}
}

func tickEvent(at time.Time) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		EventID:    "e-tick",
		PropertyID: "villa-7",
		Type:       models.EventBookingTick,
		Timestamp:  at,
	}
}

func findIntent(intents []models.Intent, kind models.IntentKind) *models.Intent {
	for i := range intents {
		if intents[i].Kind == kind {
			return &intents[i]
		}
	}
	return nil
}

func alertPayload(t *testing.T, intent *models.Intent) models.AlertPayload {
	t.Helper()
	var p models.AlertPayload
	require.NoError(t, json.Unmarshal(intent.Payload, &p))
	return p
}

func transitionPayload(t *testing.T, intent *models.Intent) models.TransitionPayload {
	t.Helper()
	var p models.TransitionPayload
	require.NoError(t, json.Unmarshal(intent.Payload, &p))
	return p
}

func openAlert(state *models.PropertyState, kind models.AlertKind, severity int, at time.Time) *models.Alert {
	alert := &models.Alert{
		AlertID:         "a-" + string(kind),
		PropertyID:      state.PropertyID,
		Kind:            kind,
		Severity:        severity,
		RaisedAt:        at,
		LastEscalatedAt: at,
	}
	state.OpenAlerts = append(state.OpenAlerts, alert)
	return alert
}

func TestEvaluate_StaleReadingIgnored(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	state.LastReading.Timestamp = t0.Add(10 * time.Minute)

	// 时间戳早于当前快照的读数不产生任何指令
	d := e.Evaluate(state, countEvent(t0.Add(5*time.Minute), 9), activeBooking(t0, 4), testProperty())
	assert.Empty(t, d.Intents)
	assert.Equal(t, t0.Add(10*time.Minute), state.LastReading.Timestamp)
}

func TestEvaluate_OccupancyMismatch(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 13, 18, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)

	// 预期 4 人、容差 ±1：6 台设备超限
	d := e.Evaluate(state, countEvent(t0, 6), activeBooking(t0, 4), testProperty())

	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	payload := alertPayload(t, raise)
	assert.Equal(t, models.AlertOccupancyMismatch, payload.Kind)
	assert.Equal(t, 1, payload.Severity)
	assert.NotNil(t, findIntent(d.Intents, models.IntentNotify))
	assert.Nil(t, findIntent(d.Intents, models.IntentStateTransition))
}

func TestEvaluate_OccupancyWithinTolerance(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 13, 18, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	openAlert(state, models.AlertOccupancyMismatch, 1, t0.Add(-time.Hour))

	// 5 台设备在 4±1 之内：清除超员并核验入住
	d := e.Evaluate(state, countEvent(t0, 5), activeBooking(t0, 4), testProperty())

	clear := findIntent(d.Intents, models.IntentClearAlert)
	require.NotNil(t, clear)
	assert.Equal(t, models.AlertOccupancyMismatch, alertPayload(t, clear).Kind)

	trans := findIntent(d.Intents, models.IntentStateTransition)
	require.NotNil(t, trans)
	assert.Equal(t, models.PhaseOccupiedVerified, transitionPayload(t, trans).To)
}

func TestEvaluate_OccupancyMismatchWithOpenParty_HigherSeverity(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 13, 23, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	openAlert(state, models.AlertParty, 1, t0.Add(-time.Hour))

	d := e.Evaluate(state, countEvent(t0, 9), activeBooking(t0, 4), testProperty())

	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	assert.Equal(t, 2, alertPayload(t, raise).Severity)
}

func TestEvaluate_ZeroCountConfirmationWindow(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified
	prop := testProperty()

	// 归零不立即转 VACANT
	d := e.Evaluate(state, countEvent(t0, 0), activeBooking(t0, 4), prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentStateTransition))
	require.NotNil(t, state.ZeroCountSince)

	// 窗口未到期：仍不转换
	d = e.Evaluate(state, countEvent(t0.Add(5*time.Minute), 0), activeBooking(t0, 4), prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentStateTransition))

	// 确认窗口（10 分钟）到期后任意事件触发复查
	d = e.Evaluate(state, countEvent(t0.Add(11*time.Minute), 0), activeBooking(t0, 4), prop)
	trans := findIntent(d.Intents, models.IntentStateTransition)
	require.NotNil(t, trans)
	assert.Equal(t, models.PhaseVacant, transitionPayload(t, trans).To)
	assert.Nil(t, state.ZeroCountSince)
}

func TestEvaluate_ZeroCountCancelledByReturn(t *testing.T) {
	e := newTestEvaluator()
	t0 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified
	prop := testProperty()

	e.Evaluate(state, countEvent(t0, 0), activeBooking(t0, 4), prop)
	require.NotNil(t, state.ZeroCountSince)

	// WiFi 瞬断恢复：人员回流取消确认窗口
	d := e.Evaluate(state, countEvent(t0.Add(3*time.Minute), 4), activeBooking(t0, 4), prop)
	assert.Nil(t, state.ZeroCountSince)

	trans := findIntent(d.Intents, models.IntentStateTransition)
	if trans != nil {
		assert.NotEqual(t, models.PhaseVacant, transitionPayload(t, trans).To)
	}
}

func TestEvaluate_PartyDetection_SustainedDuringQuietHours(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 22, 5, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	bctx := activeBooking(t0, 4)

	// 78 dB 持续样本：22:05 / 22:10 尚不满足 10 分钟
	d := e.Evaluate(state, noiseEvent(t0, 78), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))

	d = e.Evaluate(state, noiseEvent(t0.Add(5*time.Minute), 78), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))

	// 22:16：覆盖 11 分钟，判定派对
	d = e.Evaluate(state, noiseEvent(t0.Add(11*time.Minute), 78), bctx, prop)
	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	payload := alertPayload(t, raise)
	assert.Equal(t, models.AlertParty, payload.Kind)
	assert.Equal(t, 1, payload.Severity)
	assert.NotNil(t, findIntent(d.Intents, models.IntentNotify))
}

func TestEvaluate_PartyDetection_OutsideQuietHoursNoAlert(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 14, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	bctx := activeBooking(t0, 4)

	// 同样的噪声序列在 14:00 不判定派对
	for _, offset := range []time.Duration{0, 5 * time.Minute, 11 * time.Minute} {
		d := e.Evaluate(state, noiseEvent(t0.Add(offset), 78), bctx, prop)
		assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))
	}
}

func TestEvaluate_PartyDetection_InterruptedSequenceNoAlert(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 22, 5, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	bctx := activeBooking(t0, 4)

	e.Evaluate(state, noiseEvent(t0, 78), bctx, prop)
	// 中途回落打断持续性
	e.Evaluate(state, noiseEvent(t0.Add(5*time.Minute), 60), bctx, prop)
	d := e.Evaluate(state, noiseEvent(t0.Add(11*time.Minute), 78), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))
}

func TestEvaluate_PartyDetection_InterruptionBeforeWindowStart(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 22, 5, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	bctx := activeBooking(t0, 4)

	// 22:08 的回落样本落在 22:21 的判定窗口起点之前，
	// 但仍在保留窗口内：超限区间实际从 22:12 起算，只有 9 分钟
	e.Evaluate(state, noiseEvent(t0, 78), bctx, prop)
	e.Evaluate(state, noiseEvent(t0.Add(3*time.Minute), 60), bctx, prop)
	e.Evaluate(state, noiseEvent(t0.Add(7*time.Minute), 78), bctx, prop)
	d := e.Evaluate(state, noiseEvent(t0.Add(16*time.Minute), 78), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))

	// 22:12 起的超限区间到 22:23 覆盖满 10 分钟，判定派对
	d = e.Evaluate(state, noiseEvent(t0.Add(18*time.Minute), 78), bctx, prop)
	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	assert.Equal(t, models.AlertParty, alertPayload(t, raise).Kind)
}

func TestEvaluate_PartyCleared_AfterSustainedQuiet(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 23, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	openAlert(state, models.AlertParty, 2, t0.Add(-30*time.Minute))
	bctx := activeBooking(t0, 4)

	// 噪声回落：立即不清除
	d := e.Evaluate(state, noiseEvent(t0, 50), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentClearAlert))

	// 持续低于阈值 10 分钟后清除
	d = e.Evaluate(state, noiseEvent(t0.Add(10*time.Minute), 50), bctx, prop)
	clear := findIntent(d.Intents, models.IntentClearAlert)
	require.NotNil(t, clear)
	assert.Equal(t, models.AlertParty, alertPayload(t, clear).Kind)
}

func TestEvaluate_VacantSecurity_MotionWithoutGrant(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)

	d := e.Evaluate(state, motionEvent(t0), BookingContext{}, prop)

	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	payload := alertPayload(t, raise)
	assert.Equal(t, models.AlertUnauthorizedPresence, payload.Kind)
	assert.Equal(t, 1, payload.Severity)
	assert.NotNil(t, findIntent(d.Intents, models.IntentCameraArm))
	assert.NotNil(t, findIntent(d.Intents, models.IntentNotify))
}

func TestEvaluate_VacantSecurity_CorroborationEscalates(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	openAlert(state, models.AlertUnauthorizedPresence, 1, t0.Add(-2*time.Minute))

	d := e.Evaluate(state, motionEvent(t0), BookingContext{}, prop)

	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	assert.Equal(t, 2, alertPayload(t, raise).Severity)
}

func TestEvaluate_VacantSecurity_RecentGrantSuppresses(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	grant := t0.Add(-3 * time.Minute)
	state.LastGrantAt = &grant

	// 回溯窗口（5 分钟）内有授权进入：移动不报警
	d := e.Evaluate(state, motionEvent(t0), BookingContext{}, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))
}

func TestEvaluate_SafetySmoke(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 20, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified

	d := e.Evaluate(state, smokeEvent(t0, true), activeBooking(t0, 4), prop)
	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	payload := alertPayload(t, raise)
	assert.Equal(t, models.AlertSafety, payload.Kind)
	assert.Equal(t, prop.MaxSeverity, payload.Severity)

	// 信号解除时清除
	openAlert(state, models.AlertSafety, prop.MaxSeverity, t0)
	d = e.Evaluate(state, smokeEvent(t0.Add(10*time.Minute), false), activeBooking(t0, 4), prop)
	clear := findIntent(d.Intents, models.IntentClearAlert)
	require.NotNil(t, clear)
	assert.Equal(t, models.AlertSafety, alertPayload(t, clear).Kind)
}

func TestEvaluate_AuthorizedEntry(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 15, 30, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	openAlert(state, models.AlertUnauthorizedPresence, 2, t0.Add(-10*time.Minute))

	event := &models.CanonicalEvent{
		EventID:    "e-grant",
		PropertyID: "villa-7",
		Type:       models.EventLockGrant,
		Timestamp:  t0,
		Actor:      "guest-code",
	}
	d := e.Evaluate(state, event, activeBooking(t0, 4), prop)

	clear := findIntent(d.Intents, models.IntentClearAlert)
	require.NotNil(t, clear)
	assert.Equal(t, models.AlertUnauthorizedPresence, alertPayload(t, clear).Kind)

	trans := findIntent(d.Intents, models.IntentStateTransition)
	require.NotNil(t, trans)
	assert.Equal(t, models.PhaseOccupiedUnverified, transitionPayload(t, trans).To)
	require.NotNil(t, state.LastGrantAt)
	assert.Equal(t, t0, *state.LastGrantAt)
}

func TestEvaluate_Turnover_BookingEnded(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)
	state.Phase = models.PhaseOccupiedVerified

	// 无生效预订的节拍：转 TURNOVER，布防并关灯
	d := e.Evaluate(state, tickEvent(t0), BookingContext{}, prop)

	trans := findIntent(d.Intents, models.IntentStateTransition)
	require.NotNil(t, trans)
	assert.Equal(t, models.PhaseTurnover, transitionPayload(t, trans).To)
	assert.NotNil(t, findIntent(d.Intents, models.IntentCameraArm))
	assert.NotNil(t, findIntent(d.Intents, models.IntentLightScene))

	// 状态变更排在派生动作之前
	assert.Equal(t, models.IntentStateTransition, d.Intents[0].Kind)
}

func TestEvaluate_Turnover_NoopWhenVacant(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)

	d := e.Evaluate(state, tickEvent(t0), BookingContext{}, prop)
	assert.Empty(t, d.Intents)
}

func TestEvaluate_BookingConflict(t *testing.T) {
	e := newTestEvaluator()
	prop := testProperty()
	t0 := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	state := models.NewPropertyState("villa-7", t0)

	b1 := models.Booking{BookingID: "b1", PropertyID: "villa-7", StartTime: t0, EndTime: t0.Add(48 * time.Hour)}
	b2 := models.Booking{BookingID: "b2", PropertyID: "villa-7", StartTime: t0.Add(24 * time.Hour), EndTime: t0.Add(72 * time.Hour)}
	bctx := BookingContext{Active: &b1, Conflicts: [][2]models.Booking{{b1, b2}}}

	d := e.Evaluate(state, tickEvent(t0), bctx, prop)

	raise := findIntent(d.Intents, models.IntentRaiseAlert)
	require.NotNil(t, raise)
	assert.Equal(t, models.AlertConfigConflict, alertPayload(t, raise).Kind)
	assert.NotNil(t, findIntent(d.Intents, models.IntentNotify))

	// 已有打开的配置冲突报警时不重复上报
	openAlert(state, models.AlertConfigConflict, 1, t0)
	d = e.Evaluate(state, tickEvent(t0.Add(time.Minute)), bctx, prop)
	assert.Nil(t, findIntent(d.Intents, models.IntentRaiseAlert))
}
