package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staywatch/internal/models"

	"go.uber.org/zap"
)

// EventsRepository 事件时序日志仓库
// sensor_readings / lock_events 均为追加写，按站点+时间戳排序
type EventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventsRepository 创建事件日志仓库
func NewEventsRepository(db *sql.DB, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendSensorReading 追加传感器读数
func (r *EventsRepository) AppendSensorReading(ctx context.Context, reading *models.SensorReading) error {
	if reading.PropertyID == "" {
		return fmt.Errorf("property_id is required")
	}
	if reading.SourceEventID == "" {
		return fmt.Errorf("source_event_id is required")
	}

	query := `
		INSERT INTO sensor_readings (
			property_id,
			ts,
			noise_db,
			device_count,
			motion,
			smoke,
			temperature,
			humidity,
			source_event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.PropertyID,
		reading.Timestamp,
		reading.NoiseDB,
		reading.DeviceCount,
		reading.Motion,
		reading.Smoke,
		reading.Temperature,
		reading.Humidity,
		reading.SourceEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to append sensor reading: %w", err)
	}

	return nil
}

// AppendLockEvent 追加门锁事件
func (r *EventsRepository) AppendLockEvent(ctx context.Context, event *models.LockEvent) error {
	if event.PropertyID == "" {
		return fmt.Errorf("property_id is required")
	}
	if event.SourceEventID == "" {
		return fmt.Errorf("source_event_id is required")
	}

	query := `
		INSERT INTO lock_events (
			property_id,
			ts,
			actor,
			outcome,
			source_event_id
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.PropertyID,
		event.Timestamp,
		event.Actor,
		event.Outcome,
		event.SourceEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to append lock event: %w", err)
	}

	return nil
}

// LatestGrantSince 查询给定时刻之后最近一次授权进入；没有返回 nil
func (r *EventsRepository) LatestGrantSince(ctx context.Context, propertyID string, since time.Time) (*models.LockEvent, error) {
	if propertyID == "" {
		return nil, fmt.Errorf("property_id is required")
	}

	query := `
		SELECT property_id, ts, actor, outcome, source_event_id
		FROM lock_events
		WHERE property_id = $1
		  AND outcome = 'granted'
		  AND ts >= $2
		ORDER BY ts DESC
		LIMIT 1
	`

	var event models.LockEvent
	err := r.db.QueryRowContext(ctx, query, propertyID, since).Scan(
		&event.PropertyID,
		&event.Timestamp,
		&event.Actor,
		&event.Outcome,
		&event.SourceEventID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest grant: %w", err)
	}

	return &event, nil
}

// ListReadings 按时间区间查询读数（升序）
func (r *EventsRepository) ListReadings(ctx context.Context, propertyID string, from, to time.Time) ([]*models.SensorReading, error) {
	if propertyID == "" {
		return nil, fmt.Errorf("property_id is required")
	}

	query := `
		SELECT property_id, ts, noise_db, device_count, motion, smoke, temperature, humidity, source_event_id
		FROM sensor_readings
		WHERE property_id = $1
		  AND ts >= $2
		  AND ts <= $3
		ORDER BY ts ASC
	`

	rows, err := r.db.QueryContext(ctx, query, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", err)
	}
	defer rows.Close()

	readings := []*models.SensorReading{}
	for rows.Next() {
		var reading models.SensorReading
		err := rows.Scan(
			&reading.PropertyID,
			&reading.Timestamp,
			&reading.NoiseDB,
			&reading.DeviceCount,
			&reading.Motion,
			&reading.Smoke,
			&reading.Temperature,
			&reading.Humidity,
			&reading.SourceEventID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}
		readings = append(readings, &reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor readings: %w", err)
	}

	return readings, nil
}
