// Package export renders question batches as downloadable spreadsheets.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

// Header is the column layout shared by every export format.
var Header = []string{
	"Topic", "Question_text",
	"Option A", "Option B", "Option C", "Option D",
	"Correct_Answer", "Explanation",
}

const sheetName = "MCQs"

// Row is one exported question.
type Row struct {
	Topic         string
	Question      string
	Options       [mcq.OptionCount]string
	CorrectAnswer string
	Explanation   string
}

func (r Row) record() []string {
	return []string{
		r.Topic, r.Question,
		r.Options[0], r.Options[1], r.Options[2], r.Options[3],
		r.CorrectAnswer, r.Explanation,
	}
}

// Rows flattens batches in order. Items must be normalized.
func Rows(batches []mcq.TopicBatch) []Row {
	rows := make([]Row, 0, mcq.CountItems(batches))
	for _, b := range batches {
		for _, it := range b.Items {
			r := Row{
				Topic:         b.Topic,
				Question:      it.Question,
				CorrectAnswer: it.CorrectLetter(),
				Explanation:   it.Explanation,
			}
			copy(r.Options[:], it.Options)
			rows = append(rows, r)
		}
	}
	return rows
}

// CSV renders batches as UTF-8 CSV with a byte-order mark, so spreadsheet
// tools pick the right encoding.
func CSV(batches []mcq.TopicBatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, Rows(batches)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCSV writes the header and rows to w.
func WriteCSV(w io.Writer, rows []Row) error {
	tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(tw)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return tw.Close()
}

// ReadCSV parses an export back into rows. A leading byte-order mark is
// optional.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = len(Header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return fromRecords(records)
}

// XLSX renders batches as a single-sheet workbook.
func XLSX(batches []mcq.TopicBatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, Rows(batches)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteXLSX writes the header and rows to w as an .xlsx workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	if err := setRow(f, 1, Header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, i+2, r.record()); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}

// ReadXLSX parses a workbook written by WriteXLSX.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening xlsx: %w", err)
	}
	defer f.Close()

	records, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("reading xlsx: %w", err)
	}
	// GetRows trims trailing empty cells.
	for i, rec := range records {
		for len(rec) < len(Header) {
			rec = append(rec, "")
		}
		records[i] = rec
	}
	return fromRecords(records)
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("row %d: %w", n, err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
		return fmt.Errorf("writing row %d: %w", n, err)
	}
	return nil
}

func fromRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	if got := strings.Join(records[0], ","); got != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %q", got)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, fmt.Errorf("row has %d fields, want %d", len(rec), len(Header))
		}
		r := Row{
			Topic:         rec[0],
			Question:      rec[1],
			CorrectAnswer: rec[6],
			Explanation:   rec[7],
		}
		copy(r.Options[:], rec[2:6])
		rows = append(rows, r)
	}
	return rows, nil
}
