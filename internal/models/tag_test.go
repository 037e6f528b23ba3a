package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTag_ValidAt(t *testing.T) {
	window := &ValidityWindow{
		From: time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC),
	}

	cleaner := Tag{TagID: "tag-c", Role: RoleCleaner, PropertyID: "villa-7", Validity: window}
	assert.False(t, cleaner.ValidAt(time.Date(2026, 1, 14, 9, 59, 0, 0, time.UTC)))
	assert.True(t, cleaner.ValidAt(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)))
	assert.True(t, cleaner.ValidAt(time.Date(2026, 1, 14, 13, 59, 0, 0, time.UTC)))
	assert.False(t, cleaner.ValidAt(time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC)))

	// owner/emergency 不受有效期限制
	owner := Tag{TagID: "tag-o", Role: RoleOwner, Validity: window}
	assert.True(t, owner.ValidAt(time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)))

	emergency := Tag{TagID: "tag-e", Role: RoleEmergency, Validity: window}
	assert.True(t, emergency.ValidAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	// 无有效期配置表示长期有效
	welcome := Tag{TagID: "tag-w", Role: RoleGuestWelcome, PropertyID: "villa-7"}
	assert.True(t, welcome.ValidAt(time.Now()))
}
