package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staywatch/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 报警归档仓库
// 报警清除后归档保留（审计），不做物理删除
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警归档仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlert 记录新报警
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			property_id,
			kind,
			severity,
			raised_at,
			last_escalated_at,
			cleared,
			cleared_at,
			message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.PropertyID,
		alert.Kind,
		alert.Severity,
		alert.RaisedAt,
		alert.LastEscalatedAt,
		alert.Cleared,
		alert.ClearedAt,
		alert.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// UpdateSeverity 更新报警级别与最近升级时间
func (r *AlertsRepository) UpdateSeverity(ctx context.Context, alertID string, severity int, escalatedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alerts
		SET severity = $1,
		    last_escalated_at = $2
		WHERE alert_id = $3
		  AND cleared = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, severity, escalatedAt, alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert severity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found or already cleared: alert_id=%s", alertID)
	}

	return nil
}

// ClearAlert 归档清除报警（幂等：已清除的报警再次清除不报错）
func (r *AlertsRepository) ClearAlert(ctx context.Context, alertID string, clearedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alerts
		SET cleared = TRUE,
		    cleared_at = $1
		WHERE alert_id = $2
		  AND cleared = FALSE
	`

	_, err := r.db.ExecContext(ctx, query, clearedAt, alertID)
	if err != nil {
		return fmt.Errorf("failed to clear alert: %w", err)
	}

	return nil
}

// ListAlerts 按站点查询报警归档（降序，含已清除）
func (r *AlertsRepository) ListAlerts(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Alert, error) {
	if propertyID == "" {
		return nil, fmt.Errorf("property_id is required")
	}

	query := `
		SELECT alert_id, property_id, kind, severity, raised_at, last_escalated_at, cleared, cleared_at, message
		FROM alerts
		WHERE property_id = $1
		  AND raised_at >= $2
		  AND raised_at <= $3
		ORDER BY raised_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var alert models.Alert
		var clearedAt sql.NullTime
		err := rows.Scan(
			&alert.AlertID,
			&alert.PropertyID,
			&alert.Kind,
			&alert.Severity,
			&alert.RaisedAt,
			&alert.LastEscalatedAt,
			&alert.Cleared,
			&clearedAt,
			&alert.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if clearedAt.Valid {
			alert.ClearedAt = &clearedAt.Time
		}
		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
