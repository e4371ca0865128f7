package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"courtslot/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Grid"

var errNoGrid = errors.New("no grid to export")

// FileName is the download name of a grid export.
func FileName(grid *models.Grid) string {
	return fmt.Sprintf("slots_%s.xlsx", grid.Date)
}

// WriteGridXLSX renders the grid as a single-sheet workbook: one row per
// slot with its state, total price, per-court prices and holds.
func WriteGridXLSX(w io.Writer, grid *models.Grid, courts []models.LabeledCourt) error {
	if grid == nil {
		return errNoGrid
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Date: %s", grid.Date))
	labels := make([]string, len(courts))
	for i, c := range courts {
		labels[i] = fmt.Sprintf("%s (%s)", c.Label, c.Name)
	}
	_ = f.SetCellValue(sheetName, "A2", "Courts: "+strings.Join(labels, ", "))
	switch {
	case grid.Closed:
		_ = f.SetCellValue(sheetName, "A3", "Closed on this day")
	case grid.Degraded:
		_ = f.SetCellValue(sheetName, "A3", "Live availability unavailable")
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headers := []string{"Slot", "State", "Price"}
	for _, c := range courts {
		headers = append(headers, c.Label)
	}
	headers = append(headers, "Holds")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	const headerRow = 5
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 14)
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheetName, lastCol, lastCol, 40)

	styles, err := stateStyles(f)
	if err != nil {
		return err
	}

	for i, slot := range grid.Slots {
		row := headerRow + 1 + i
		values := []any{string(slot.Key), string(slot.State), slot.Price}
		for _, c := range courts {
			if p, ok := slot.CourtPrices[c.ID]; ok {
				values = append(values, p)
			} else if len(courts) == 1 {
				values = append(values, slot.Price)
			} else {
				values = append(values, "")
			}
		}
		values = append(values, holdSummary(slot))

		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return err
		}
		stateCell, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellStyle(sheetName, stateCell, stateCell, styles[slot.State])
	}

	return f.Write(w)
}

func stateStyles(f *excelize.File) (map[models.SlotState]int, error) {
	colors := map[models.SlotState]string{
		models.SlotAvailable:   "#C6EFCE",
		models.SlotUnavailable: "#FFC7CE",
		models.SlotUnknown:     "#FFEB9C",
	}
	styles := make(map[models.SlotState]int, len(colors))
	for state, color := range colors {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		if err != nil {
			return nil, err
		}
		styles[state] = id
	}
	return styles, nil
}

func holdSummary(slot models.TimeSlot) string {
	if slot.Past {
		return "past"
	}
	parts := make([]string, 0, len(slot.Holds))
	for _, h := range slot.Holds {
		s := fmt.Sprintf("%s until %s", h.CourtID, h.HoldUntil.Format("15:04"))
		if h.BookingID != "" {
			s += " (" + h.BookingID + ")"
		}
		if h.Reason != "" {
			s += " [" + h.Reason + "]"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
