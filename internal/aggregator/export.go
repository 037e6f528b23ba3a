package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"staywatch/internal/models"

	"github.com/xuri/excelize/v2"
)

// AlertArchiveSource 报警归档来源（repository.AlertsRepository 实现）
type AlertArchiveSource interface {
	ListAlerts(ctx context.Context, propertyID string, from, to time.Time) ([]*models.Alert, error)
}

// alertExportHeader 报警审计导出表头
var alertExportHeader = []string{
	"Alert ID",
	"Property",
	"Kind",
	"Severity",
	"Raised At",
	"Last Escalated At",
	"Cleared",
	"Cleared At",
	"Message",
}

// ExportAlertAudit 导出报警审计 Excel 文件
// 逐站点查询归档，单站点查询失败整体失败（审计导出要求完整）
func (a *Aggregator) ExportAlertAudit(ctx context.Context, archive AlertArchiveSource, from, to time.Time) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，这里不 defer Close

	sheetName := "Alert Audit"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range alertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{38, 20, 24, 10, 20, 20, 10, 20, 40}
	for i := range alertExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, propertyID := range a.sites.PropertyIDs() {
		alerts, err := archive.ListAlerts(ctx, propertyID, from, to)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to list alerts for %s: %w", propertyID, err)
		}
		prop, _ := a.sites.Property(propertyID)

		for _, alert := range alerts {
			values := []interface{}{
				alert.AlertID,
				prop.Name,
				string(alert.Kind),
				alert.Severity,
				alert.RaisedAt.Format("2006-01-02 15:04:05"),
				alert.LastEscalatedAt.Format("2006-01-02 15:04:05"),
				formatBool(alert.Cleared),
				formatClearedAt(alert.ClearedAt),
				alert.Message,
			}
			for col, value := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to convert coordinates: %w", err)
				}
				if err := f.SetCellValue(sheetName, cell, value); err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
				}
			}
			row++
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

func formatBool(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatClearedAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
