package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// sheetWriter wraps excelize with a cursor-based row API.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

// addSheet adds a new sheet and makes it current.
func (w *sheetWriter) addSheet(name string) error {
	// Excel caps sheet names at 31 chars
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		w.file.SetSheetName("Sheet1", name)
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, col); err != nil {
			return err
		}
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}

	w.currentRow++
	return nil
}

func (w *sheetWriter) writeRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

func (w *sheetWriter) save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *sheetWriter) close() error {
	return w.file.Close()
}
