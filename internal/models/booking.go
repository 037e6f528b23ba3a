package models

import (
	"sort"
	"time"
)

// Booking 预订记录（来自日历协作方，本核心只读）
type Booking struct {
	BookingID     string    `json:"booking_id"`
	PropertyID    string    `json:"property_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	ExpectedCount int       `json:"expected_count"` // 预期入住人数
	Source        string    `json:"source"`         // 日历来源标识
}

// Active 判断给定时刻是否在预订窗口内
func (b Booking) Active(at time.Time) bool {
	return !at.Before(b.StartTime) && at.Before(b.EndTime)
}

// Overlaps 判断两个预订窗口是否重叠
func (b Booking) Overlaps(other Booking) bool {
	return b.StartTime.Before(other.EndTime) && other.StartTime.Before(b.EndTime)
}

// SortBookings 按开始时间排序（原地）
func SortBookings(bookings []Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].StartTime.Before(bookings[j].StartTime)
	})
}

// ActiveBooking 返回给定时刻生效的预订；没有则返回 nil
// 不变量：同一站点任意时刻至多一个生效预订（重叠由 FindOverlaps 上报为配置冲突）
func ActiveBooking(bookings []Booking, at time.Time) *Booking {
	for i := range bookings {
		if bookings[i].Active(at) {
			return &bookings[i]
		}
	}
	return nil
}

// FindOverlaps 检测同一站点的预订重叠（双重预订）
// 返回所有重叠的预订对；调用方应上报配置冲突报警而非静默取舍
func FindOverlaps(bookings []Booking) [][2]Booking {
	sorted := make([]Booking, len(bookings))
	copy(sorted, bookings)
	SortBookings(sorted)

	var conflicts [][2]Booking
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].Overlaps(sorted[i+1]) {
			conflicts = append(conflicts, [2]Booking{sorted[i], sorted[i+1]})
		}
	}
	return conflicts
}
