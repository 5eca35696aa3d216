package export

import (
	"fmt"
	"io"
	"time"

	"alarm-broker/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Alarms"

var headers = []string{
	"Alarm ID", "Status", "Severity", "Source", "Event",
	"Person", "Room", "Site", "Device",
	"Created At", "Acked At", "Acked By",
	"Resolved At", "Resolved By", "Cancelled At", "Cancelled By",
	"Ticket ID",
}

// WriteAlarms 将报警列表导出为 xlsx 写入 w
func WriteAlarms(w io.Writer, alarms []*models.Alarm) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#DDDDDD"},
			Pattern: 1,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to build header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
	}

	for i, alarm := range alarms {
		row := i + 2
		values := []interface{}{
			alarm.ID,
			string(alarm.Status),
			alarm.Severity,
			alarm.Source,
			alarm.Event,
			deref(alarm.PersonID),
			deref(alarm.RoomID),
			deref(alarm.SiteID),
			deref(alarm.DeviceID),
			formatTime(&alarm.CreatedAt),
			formatTime(alarm.AckedAt),
			deref(alarm.AckedBy),
			formatTime(alarm.ResolvedAt),
			deref(alarm.ResolvedBy),
			formatTime(alarm.CancelledAt),
			deref(alarm.CancelledBy),
			ticketID(alarm.ZammadTicketID),
		}

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("failed to build row cell name: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func ticketID(id *int) string {
	if id == nil {
		return ""
	}
	return fmt.Sprintf("%d", *id)
}
