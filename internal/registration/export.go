package registration

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/model"
)

// Format is a roster export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv and xlsx (excel is an alias of xlsx).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", apperr.Validation("export format must be csv or xlsx")
}

// ContentType is the media type served for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// ExportHeader is the first row of every export.
var ExportHeader = []string{"Name", "Email", "Student ID", "Year", "Major", "Phone", "Registration Date", "Status"}

const sheetName = "Registrations"

// Export is a rendered roster file.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportRoster renders the roster of the listing named by idOrLink, one
// row per entry in roster order.
func (s *Service) ExportRoster(ctx context.Context, kind model.Kind, idOrLink string, format Format) (out Export, err error) {
	ctx, end := s.span(ctx, "ExportRoster",
		attribute.String("listing.kind", string(kind)),
		attribute.String("format", string(format)))
	defer end(&err)

	r, err := s.Roster(ctx, kind, idOrLink)
	if err != nil {
		return Export{}, err
	}
	rows := exportRows(r.Entries)

	var body []byte
	switch format {
	case FormatCSV:
		body, err = renderCSV(rows)
	case FormatXLSX:
		body, err = renderXLSX(rows)
	default:
		return Export{}, apperr.Validation("export format must be csv or xlsx")
	}
	if err != nil {
		return Export{}, apperr.Internal("render export", err)
	}
	s.metrics.Export(string(kind), string(format))
	return Export{
		Filename:    fmt.Sprintf("%s-%s-registrations.%s", kind, r.ListingID.Hex(), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func exportRows(entries []RosterRow) [][]string {
	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, ExportHeader)
	for _, e := range entries {
		rows = append(rows, []string{
			safeCell(e.Name),
			safeCell(e.Email),
			safeCell(e.StudentNumber),
			string(e.Year),
			safeCell(e.Major),
			safeCell(e.Phone),
			e.RegistrationDate.UTC().Format(time.RFC3339),
			string(e.Status),
		})
	}
	return rows
}

// safeCell prefixes a quote to values that a spreadsheet would read as a
// formula. Profile fields are student input and the export is opened by
// administrators.
func safeCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

func renderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheetName); err != nil {
		return nil, err
	}
	for idx, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return nil, err
		}
		cells := make([]interface{}, len(row))
		for i, v := range row {
			cells[i] = v
		}
		if err := f.SetSheetRow(sheetName, axis, &cells); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(sheetName, "A", "H", 20); err != nil {
		return nil, err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
