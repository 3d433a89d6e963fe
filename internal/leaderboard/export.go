package leaderboard

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"spcbench-backend-go/internal/models"
)

const exportSheet = "Leaderboard"

// WriteXLSX writes ranked rows as a spreadsheet with one column per metric.
// Unset metrics are left blank and anonymous creators are masked.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return eris.Wrap(err, "export: rename sheet")
	}

	headers := []interface{}{"Rank", "Name", "Creator", "University", "Visibility", "Entries"}
	for _, field := range models.MetricFields {
		headers = append(headers, field.Label)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &headers); err != nil {
		return eris.Wrap(err, "export: header")
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return eris.Wrap(err, "export: style")
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, style); err != nil {
		return eris.Wrap(err, "export: style header")
	}

	for i, row := range rows {
		creator, university := row.Entry.CreatorEmail, row.Entry.CreatorUniversity
		if row.Anonymous {
			creator, university = "Anonymous", ""
		}
		values := []interface{}{row.Rank, row.Entry.Name, creator, university, row.Entry.Visibility.Label(), row.GroupSize}
		for _, field := range models.MetricFields {
			value := row.Entry.Metric(field.Key)
			if models.IsUnset(value) {
				values = append(values, nil)
				continue
			}
			values = append(values, value)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return eris.Wrapf(err, "export: row %d", i+1)
		}
	}
	return eris.Wrap(f.Write(w), "export: write")
}
