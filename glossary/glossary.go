// Package glossary reads term lists used to register translation
// glossaries. A glossary file is a table whose first row holds language
// codes; each further row holds one term per language. Both tab separated
// text (.tsv, .txt) and Excel workbooks (.xlsx) are accepted.
package glossary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry maps a source term to its target term.
type Entry struct {
	Source string
	Target string
}

// ErrLanguageColumn is returned when the header row has no column for a
// requested language.
var ErrLanguageColumn = errors.New("language column not found")

// Read loads the entries for the from -> to pair from path, choosing the
// reader by file extension.
func Read(path, from, to string) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, from, to)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadTSV(f, from, to)
	}
}

// ReadTSV reads a tab separated glossary.
func ReadTSV(r io.Reader, from, to string) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading glossary: %w", err)
	}
	return fromRows(rows, from, to)
}

// ReadXLSX reads the first worksheet of a workbook.
func ReadXLSX(path, from, to string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening glossary workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("glossary workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows, from, to)
}

func fromRows(rows [][]string, from, to string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("glossary is empty")
	}
	src, err := column(rows[0], from)
	if err != nil {
		return nil, err
	}
	dst, err := column(rows[0], to)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	seen := make(map[string]bool)
	for _, row := range rows[1:] {
		s, t := cell(row, src), cell(row, dst)
		if s == "" || t == "" || seen[s] {
			continue
		}
		seen[s] = true
		entries = append(entries, Entry{Source: s, Target: t})
	}
	return entries, nil
}

// column finds lang in the header, ignoring case and region ("pt-BR"
// matches a "pt" column when no exact match exists).
func column(header []string, lang string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(lang))
	base, _, _ := strings.Cut(want, "-")
	fallback := -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == want {
			return i, nil
		}
		if fallback < 0 && (h == base || strings.SplitN(h, "-", 2)[0] == base) {
			fallback = i
		}
	}
	if fallback >= 0 {
		return fallback, nil
	}
	return 0, fmt.Errorf("%w: %q in header %v", ErrLanguageColumn, lang, header)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	// Tabs and newlines would break the TSV sent to the service.
	return strings.Join(strings.Fields(row[i]), " ")
}

// TSV formats entries the way the DeepL glossary endpoint expects them.
func TSV(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Source)
		b.WriteByte('\t')
		b.WriteString(e.Target)
	}
	return b.String()
}
