package sheetfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/minios-linux/doctrans/tagcodec"
)

func buildWorkbook(t *testing.T) string {
	t.Helper()
	xl := excelize.NewFile()
	defer xl.Close()

	require.NoError(t, xl.SetCellStr("Sheet1", "A1", "Hello"))
	require.NoError(t, xl.SetCellRichText("Sheet1", "B1", []excelize.RichTextRun{
		{Text: "Bold", Font: &excelize.Font{Bold: true}},
		{Text: " plain"},
	}))
	require.NoError(t, xl.SetCellValue("Sheet1", "A2", 42))
	require.NoError(t, xl.SetCellFormula("Sheet1", "A3", "A2*2"))
	require.NoError(t, xl.SetCellValue("Sheet1", "A4", true))
	require.NoError(t, xl.SetCellStr("Sheet1", "B4", "Unchanged"))

	_, err := xl.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, xl.SetCellStr("Notes", "A1", "Skip me"))

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, xl.SaveAs(path))
	return path
}

func TestUnits_StringCellsOnly(t *testing.T) {
	f, err := Open(buildWorkbook(t), Options{})
	require.NoError(t, err)
	defer f.Close()

	units, err := f.Units()
	require.NoError(t, err)
	require.Len(t, units, 4)

	assert.Equal(t, "Sheet1!A1", units[0].Location)
	assert.Equal(t, "Hello", units[0].Tagged)
	assert.Equal(t, "Sheet1!B1", units[1].Location)
	assert.Equal(t, "<1>Bold</1><2> plain</2>", units[1].Tagged)
	assert.Equal(t, "Sheet1!B4", units[2].Location)
	assert.Equal(t, "Notes!A1", units[3].Location)
}

func TestSheetFilter(t *testing.T) {
	path := buildWorkbook(t)

	f, err := Open(path, Options{Sheets: []string{"Notes"}})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, 1, f.Cells())

	_, err = Open(path, Options{Sheets: []string{"Missing"}})
	assert.ErrorContains(t, err, "Missing")
}

func TestSaveAs_WritesTranslationsOnly(t *testing.T) {
	f, err := Open(buildWorkbook(t), Options{Sheets: []string{"Sheet1"}})
	require.NoError(t, err)
	defer f.Close()

	units, err := f.Units()
	require.NoError(t, err)
	replies := map[string]string{
		"Sheet1!A1": "Hallo",
		"Sheet1!B1": "<1>Fett</1><2> schlicht</2>",
		"Sheet1!B4": "Unchanged",
	}
	for _, u := range units {
		children, err := tagcodec.Decode(u, replies[u.Location])
		require.NoError(t, err, u.Location)
		u.Splice(children)
	}

	out := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, f.SaveAs(out))

	xl, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer xl.Close()

	v, err := xl.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Hallo", v)

	runs, err := xl.GetCellRichText("Sheet1", "B1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "Fett", runs[0].Text)
	require.NotNil(t, runs[0].Font)
	assert.True(t, runs[0].Font.Bold)
	assert.Equal(t, " schlicht", runs[1].Text)

	v, err = xl.GetCellValue("Sheet1", "A2")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	formula, err := xl.GetCellFormula("Sheet1", "A3")
	require.NoError(t, err)
	assert.Equal(t, "A2*2", formula)

	v, err = xl.GetCellValue("Notes", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Skip me", v)
}

func TestRunsOf_TextOutsideRuns(t *testing.T) {
	f, err := Open(buildWorkbook(t), Options{Sheets: []string{"Sheet1"}})
	require.NoError(t, err)
	defer f.Close()

	units, err := f.Units()
	require.NoError(t, err)
	_, err = tagcodec.Decode(units[1], "Vorher <1>Fett</1><2/>")
	assert.ErrorIs(t, err, tagcodec.ErrMalformedResponse, "a run cannot come back as a void marker")

	children, err := tagcodec.Decode(units[1], "Vorher <1>Fett</1><2>.</2>")
	require.NoError(t, err)
	units[1].Splice(children)

	runs := runsOf(units[1].Root)
	require.Len(t, runs, 3)
	assert.Nil(t, runs[0].Font)
	assert.Equal(t, "Vorher ", runs[0].Text)
	assert.True(t, runs[1].Font.Bold)
}
