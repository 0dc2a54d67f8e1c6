// Package export renders a job's results for download. CSV is the primary
// format; XLSX is offered for spreadsheet users.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/model"
)

// header is the column set shared by both formats: one row per result.
var header = []string{
	"County", "State", "Organization Name", "Description",
	"Key Personnel Name", "Key Personnel Title", "Key Personnel Phone", "Key Personnel Email",
	"Address", "Contact Info", "Notes", "Source URLs",
	"Confidence Score", "Verified", "Found Date",
}

func resultRow(r model.Result) []string {
	return []string{
		r.CountyName,
		r.StateName,
		r.OrganizationName,
		r.Description,
		r.KeyPersonnelName,
		r.KeyPersonnelTitle,
		r.KeyPersonnelPhone,
		r.KeyPersonnelEmail,
		r.Address,
		r.ContactInfo,
		r.Notes,
		strings.Join(r.SourceURLs, " "),
		strconv.FormatFloat(r.ConfidenceScore, 'f', 2, 64),
		strconv.FormatBool(r.Verified),
		r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

// WriteCSV writes results as comma-separated values with a header row.
func WriteCSV(w io.Writer, results []model.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range results {
		if err := cw.Write(resultRow(r)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes results as a single-sheet spreadsheet.
func WriteXLSX(w io.Writer, results []model.Result) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().Value = h
	}
	for _, r := range results {
		row := sheet.AddRow()
		for _, v := range resultRow(r) {
			row.AddCell().Value = v
		}
	}

	return eris.Wrap(file.Write(w), "export: write xlsx")
}
