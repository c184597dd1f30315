// Package sheetfile reads and writes .xlsx workbooks for translation.
//
// Every cell holding a string becomes one translation unit. A rich-text
// cell becomes a Cell root with one Run child per formatting run; the run's
// font travels with the node as its payload so it is restored on save.
// Numbers, booleans, formulas, styles, merged ranges and number formats are
// never read into the tree and never written.
package sheetfile

import (
	"fmt"
	"io"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/minios-linux/doctrans/doctree"
	"github.com/minios-linux/doctrans/tagcodec"
)

// Options controls which cells are read.
type Options struct {
	// Sheets limits translation to the named sheets. Empty means all.
	Sheets []string
}

// File is an open workbook.
type File struct {
	xl    *excelize.File
	cells []*cell
}

type cell struct {
	sheet    string
	name     string // e.g. "B3"
	root     *doctree.Node
	rich     bool
	original string
}

// Open opens the workbook at path.
func Open(path string, opts Options) (*File, error) {
	xl, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return load(xl, opts)
}

// OpenReader reads a workbook from r.
func OpenReader(r io.Reader, opts Options) (*File, error) {
	xl, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading workbook: %w", err)
	}
	return load(xl, opts)
}

func load(xl *excelize.File, opts Options) (*File, error) {
	f := &File{xl: xl}
	all := xl.GetSheetList()
	sheets := all
	if len(opts.Sheets) > 0 {
		for _, s := range opts.Sheets {
			if !slices.Contains(all, s) {
				xl.Close()
				return nil, fmt.Errorf("sheet %q not found (have %v)", s, all)
			}
		}
		sheets = opts.Sheets
	}
	for _, sheet := range sheets {
		if err := f.loadSheet(sheet); err != nil {
			xl.Close()
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	return f, nil
}

func (f *File) loadSheet(sheet string) error {
	rows, err := f.xl.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	for r, row := range rows {
		for c, value := range row {
			if value == "" {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			ce, err := f.readCell(sheet, name, value)
			if err != nil {
				return fmt.Errorf("cell %s: %w", name, err)
			}
			if ce != nil {
				f.cells = append(f.cells, ce)
			}
		}
	}
	return nil
}

// readCell returns nil for cells that do not hold a literal string.
func (f *File) readCell(sheet, name, value string) (*cell, error) {
	typ, err := f.xl.GetCellType(sheet, name)
	if err != nil {
		return nil, err
	}
	if typ != excelize.CellTypeSharedString && typ != excelize.CellTypeInlineString {
		return nil, nil
	}
	if formula, err := f.xl.GetCellFormula(sheet, name); err != nil || formula != "" {
		return nil, err
	}

	root := doctree.New(doctree.KindCell).
		SetAttr(doctree.AttrSheet, sheet).
		SetAttr(doctree.AttrLocation, sheet+"!"+name)
	ce := &cell{sheet: sheet, name: name, root: root, original: value}

	runs, err := f.xl.GetCellRichText(sheet, name)
	if err != nil {
		return nil, err
	}
	if isRich(runs) {
		ce.rich = true
		ce.original = ""
		for _, run := range runs {
			n := doctree.New(doctree.KindRun, doctree.NewText(run.Text))
			n.Payload = run.Font
			root.Append(n)
			ce.original += run.Text
		}
		return ce, nil
	}
	root.Append(doctree.NewText(value))
	return ce, nil
}

func isRich(runs []excelize.RichTextRun) bool {
	if len(runs) > 1 {
		return true
	}
	return len(runs) == 1 && runs[0].Font != nil
}

// Units encodes every string cell, in sheet then row-major order.
func (f *File) Units() ([]*tagcodec.Unit, error) {
	var enc tagcodec.Encoder
	for _, c := range f.cells {
		if _, err := enc.AddRoot(c.root, c.root.Attr(doctree.AttrLocation)); err != nil {
			return nil, err
		}
	}
	return enc.Units(), nil
}

// Cells returns the number of string cells read.
func (f *File) Cells() int {
	return len(f.cells)
}

// apply writes changed cell text back into the workbook.
func (f *File) apply() error {
	for _, c := range f.cells {
		if c.root.PlainText() == c.original {
			continue
		}
		var err error
		if c.rich {
			err = f.xl.SetCellRichText(c.sheet, c.name, runsOf(c.root))
		} else {
			err = f.xl.SetCellStr(c.sheet, c.name, c.root.PlainText())
		}
		if err != nil {
			return fmt.Errorf("writing %s!%s: %w", c.sheet, c.name, err)
		}
	}
	return nil
}

// runsOf turns the children of a rich cell back into runs. Text the
// translator left outside any run keeps the default font.
func runsOf(root *doctree.Node) []excelize.RichTextRun {
	var runs []excelize.RichTextRun
	for _, ch := range root.Children {
		text := ch.PlainText()
		if text == "" {
			continue
		}
		run := excelize.RichTextRun{Text: text}
		if font, ok := ch.Payload.(*excelize.Font); ok {
			run.Font = font
		}
		runs = append(runs, run)
	}
	return runs
}

// SaveAs writes the workbook with translated cells to path.
func (f *File) SaveAs(path string) error {
	if err := f.apply(); err != nil {
		return err
	}
	if err := f.xl.SaveAs(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Write writes the workbook with translated cells to w.
func (f *File) Write(w io.Writer) error {
	if err := f.apply(); err != nil {
		return err
	}
	return f.xl.Write(w)
}

// Close releases the workbook.
func (f *File) Close() error {
	return f.xl.Close()
}
