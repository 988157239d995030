// Package export renders a schedule window and the intent journal as
// an xlsx workbook for back-office reporting.
package export

import (
	"fmt"
	"io"
	"time"

	"fleetgrid/internal/audit"
	"fleetgrid/internal/model"
)

const timeLayout = "2006-01-02 15:04"

// GenerateFilename creates a filename like "schedule_2026-03-16_2026-03-23.xlsx".
func GenerateFilename(start, end time.Time) string {
	return fmt.Sprintf("schedule_%s_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// WriteWorkbook writes a two-sheet workbook: the fetched schedule
// window and, when entries are given, the intent journal.
func WriteWorkbook(w io.Writer, view *model.ScheduleView, journal []audit.Entry) error {
	sw := newSheetWriter()
	defer sw.close()

	if err := writeSchedule(sw, view); err != nil {
		return err
	}
	if len(journal) > 0 {
		if err := writeJournal(sw, journal); err != nil {
			return err
		}
	}
	return sw.save(w)
}

func writeSchedule(sw *sheetWriter, view *model.ScheduleView) error {
	if err := sw.addSheet("Schedule"); err != nil {
		return err
	}
	if err := sw.writeHeader([]string{
		"Event ID", "Vehicle", "Plate", "Customer", "Status",
		"Start", "End", "Buffer (min)", "Amount", "Payment",
	}); err != nil {
		return err
	}

	titles := make(map[int64]model.Resource, len(view.Resources))
	for _, r := range view.Resources {
		titles[r.ID] = r
	}

	for _, ev := range view.Events {
		res := titles[ev.ResourceID]
		row := []interface{}{
			ev.ID,
			res.Title,
			res.Subtitle,
			ev.CustomerName,
			string(ev.Status),
			ev.Start.Format(timeLayout),
			ev.DisplayEnd().Format(timeLayout),
			ev.BufferMinutes,
			ev.Amount,
			ev.PaymentStatus,
		}
		if err := sw.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func writeJournal(sw *sheetWriter, journal []audit.Entry) error {
	if err := sw.addSheet("Journal"); err != nil {
		return err
	}
	if err := sw.writeHeader([]string{
		"When", "Intent", "Kind", "Event ID", "Revision", "Success", "Detail",
	}); err != nil {
		return err
	}

	for _, e := range journal {
		row := []interface{}{
			e.CreatedAt.Format(timeLayout),
			e.IntentID,
			string(e.Kind),
			e.EventID,
			e.Revision,
			e.Success,
			e.Detail,
		}
		if err := sw.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}
