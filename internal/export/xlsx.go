// Package export writes task snapshots to spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"shaman/internal/domain"
	"shaman/internal/views"
)

const (
	tasksSheet   = "Tasks"
	summarySheet = "Summary"
)

var taskHeaders = []string{"Title", "Status", "Priority", "Category", "Model", "Created", "Scheduled", "Progress", "Agent", "Error"}

// WriteTasks writes one row per task plus a per-status summary sheet.
func WriteTasks(w io.Writer, tasks []domain.Task) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", tasksSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range taskHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(tasksSheet, cell, h); err != nil {
			return err
		}
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetRowStyle(tasksSheet, 1, 1, headerStyle)
	}
	for i, t := range tasks {
		row := []any{
			t.Title,
			string(t.Status),
			string(t.Priority),
			string(t.Category),
			string(t.Model),
			formatTime(t.CreatedAt),
			formatTime(deref(t.ScheduledFor)),
			progress(t.Progress),
			deref(t.AgentLabel),
			deref(t.ErrorMessage),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(tasksSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	counts := views.CountByStatus(tasks)
	_ = f.SetSheetRow(summarySheet, "A1", &[]any{"Status", "Tasks"})
	for i, s := range domain.Statuses() {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &[]any{string(s), counts[s]}); err != nil {
			return err
		}
	}
	stats := views.Summarize(tasks)
	last := len(domain.Statuses()) + 2
	_ = f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", last), &[]any{"Total", stats.Total})
	_ = f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", last+1), &[]any{"Completion rate", stats.CompletionRate})

	_, err = f.WriteTo(w)
	return err
}

func formatTime(ts string) string {
	if ts == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return parsed.Format("2006-01-02 15:04")
}

func progress(p *int) any {
	if p == nil {
		return ""
	}
	return *p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
