// Package export renders queue items as spreadsheets for support hand-off.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Queue"

var headers = []string{
	"Local ID", "Action", "Date", "Status",
	"Directus", "EAS", "Linking", "Retries",
	"Errors", "Incoming materials", "Outgoing materials",
	"Directus ID", "EAS UID", "Tx hash",
}

// WriteXLSX writes one row per item to w.
func WriteXLSX(w io.Writer, items []*models.QueueItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	failedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create failed style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetCellStyle(SheetName, "A1", lastCol+"1", headerStyle)
	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", lastCol, 18)
	_ = f.SetColWidth(SheetName, "I", "K", 40)

	for i, item := range items {
		row := i + 2
		values := []interface{}{
			item.LocalID,
			item.ActionName,
			item.Date.UTC().Format(time.RFC3339),
			string(item.Status),
			string(item.Directus.Status),
			string(item.EAS.Status),
			string(item.Linking.Status),
			item.TotalRetryCount,
			errorSummary(item),
			materialSummary(item.IncomingMaterials),
			materialSummary(item.OutgoingMaterials),
			item.DirectusID,
			item.EASUID,
			item.TxHash,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
		if item.Status == models.ItemFailed {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(SheetName, first, last, failedStyle)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func errorSummary(item *models.QueueItem) string {
	var parts []string
	for _, s := range models.Steps {
		if st := item.State(s); st.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", s, st.Error))
		}
	}
	return strings.Join(parts, "; ")
}

func materialSummary(materials []models.MaterialDetail) string {
	parts := make([]string, 0, len(materials))
	for _, m := range materials {
		weight := "-"
		if m.Weight != nil {
			weight = fmt.Sprintf("%gkg", *m.Weight)
		}
		if m.Code != "" {
			parts = append(parts, fmt.Sprintf("#%d %s (%s)", m.ID, weight, m.Code))
		} else {
			parts = append(parts, fmt.Sprintf("#%d %s", m.ID, weight))
		}
	}
	return strings.Join(parts, ", ")
}
