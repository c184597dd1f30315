package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/minios-linux/doctrans/lockfile"
	"github.com/minios-linux/doctrans/translate"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    colorRed + "░░░░" + colorReset + "   0%",
		},
		{
			name:    "mid range uses yellow",
			percent: 50,
			width:   4,
			want:    colorYellow + "██░░" + colorReset + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    colorGreen + "████" + colorReset + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		rep  translate.Report
		want int
	}{
		{translate.Report{Units: 4, Opaque: 0, Translated: 4}, 100},
		{translate.Report{Units: 5, Opaque: 1, Translated: 2}, 50},
		{translate.Report{Units: 2, Opaque: 2}, 100},
		{translate.Report{Units: 3, Translated: 3, Status: translate.StatusFailed}, 0},
	}
	for _, tt := range tests {
		if got := coverage(&tt.rep); got != tt.want {
			t.Errorf("coverage(%+v) = %d, want %d", tt.rep, got, tt.want)
		}
	}
}

func TestDocumentKindAndDefaultOutput(t *testing.T) {
	kinds := map[string]string{
		"a.md":         "markdown",
		"b.MARKDOWN":   "markdown",
		"c.xlsx":       "workbook",
		"d.txt":        "",
		"dir/noext":    "",
		"sheet.xlsx.1": "",
	}
	for path, want := range kinds {
		if got := documentKind(path); got != want {
			t.Errorf("documentKind(%q) = %q, want %q", path, got, want)
		}
	}

	if got := defaultOutput(filepath.Join("docs", "guide.md"), "pt-BR"); got != filepath.Join("docs", "guide.pt-BR.md") {
		t.Errorf("defaultOutput = %q", got)
	}
}

func TestCollectJobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"index.md", "b/guide.markdown", "b/table.xlsx", "b/~$table.xlsx", "notes.txt", ".git/x.md"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out := filepath.Join(t.TempDir(), "out")
	jobs, err := collectJobs(dir, out)
	if err != nil {
		t.Fatalf("collectJobs: %v", err)
	}
	var rels []string
	for _, j := range jobs {
		rels = append(rels, filepath.ToSlash(j.rel))
		if want := filepath.Join(out, j.rel); j.dst != want {
			t.Errorf("dst = %q, want %q", j.dst, want)
		}
	}
	if got := strings.Join(rels, ","); got != "b/guide.markdown,b/table.xlsx,index.md" {
		t.Errorf("jobs = %s", got)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("ok"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if !fileExists(filePath) {
		t.Fatalf("fileExists(file) = false, want true")
	}
	if fileExists(dir) {
		t.Fatalf("fileExists(directory) = true, want false")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Fatalf("fileExists(missing) = true, want false")
	}
}

// ---------------------------------------------------------------------------
// End to end against a fake DeepL
// ---------------------------------------------------------------------------

// isolate keeps config files, keys and the translation memory of the
// machine running the tests out of the way.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("DEEPL_AUTH_KEY", "")
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "DOCTRANS_") {
			t.Setenv(name, "")
		}
	}
	return dir
}

// fakeDeepL answers /translate with rewrite applied to every text and
// counts the requests.
func fakeDeepL(t *testing.T, rewrite func(string) string) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type translation struct {
			Text string `json:"text"`
		}
		var resp struct {
			Translations []translation `json:"translations"`
		}
		for _, text := range r.PostForm["text"] {
			resp.Translations = append(resp.Translations, translation{Text: rewrite(text)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DOCTRANS_DEEPL_ENDPOINT", srv.URL)
	return &calls
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func TestTranslateFile(t *testing.T) {
	dir := isolate(t)
	calls := fakeDeepL(t, func(s string) string { return strings.ReplaceAll(s, "Hello", "Hallo") })

	src := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(src, []byte("# Hello\n\nHello **world**, see [here](http://x).\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := execute("translate", "--api-key", "k", "--no-cache", "-t", "de", src); err != nil {
		t.Fatalf("translate: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "doc.de.md"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "# Hallo\n\nHallo **world**, see [here](http://x).\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1", calls.Load())
	}
}

func TestTranslateDirectoryIsIncremental(t *testing.T) {
	dir := isolate(t)
	calls := fakeDeepL(t, func(s string) string { return s })

	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(filepath.Join(in, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"a.md": "Alpha\n", "sub/b.md": "Beta\n"} {
		if err := os.WriteFile(filepath.Join(in, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	args := []string{"translate", "--api-key", "k", "--no-cache", "-t", "fr", in, out}
	if err := execute(args...); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("first run requests = %d, want 2", calls.Load())
	}
	if !fileExists(filepath.Join(out, "sub", "b.md")) {
		t.Fatal("sub/b.md not written")
	}
	lf, err := lockfile.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, files := lf.Stats(); files != 2 {
		t.Errorf("lock file has %d files, want 2", files)
	}

	if err := execute(args...); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("unchanged files were sent again: %d requests", calls.Load())
	}

	if err := os.WriteFile(filepath.Join(in, "a.md"), []byte("Alpha two\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := execute(args...); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("requests after one edit = %d, want 3", calls.Load())
	}
}

func TestTranslatePartialFailsAndIsNotRecorded(t *testing.T) {
	dir := isolate(t)
	// Drops the markers of the first span.
	fakeDeepL(t, func(s string) string {
		return strings.NewReplacer("<x1>", "", "</x1>", "").Replace(s)
	})

	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(in, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(in, "a.md"), []byte("Plain.\n\nSome **bold** text.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := execute("translate", "--api-key", "k", "--no-cache", "-t", "de", in, out)
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	got, err := os.ReadFile(filepath.Join(out, "a.md"))
	if err != nil {
		t.Fatalf("partial output not written: %v", err)
	}
	if want := "Plain.\n\nSome **bold** text.\n"; string(got) != want {
		t.Errorf("output = %q, want original text kept", got)
	}
	lf, err := lockfile.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if !lf.IsChanged("de", "a.md", []byte("Plain.\n\nSome **bold** text.\n")) {
		t.Error("partially translated file must be retried on the next run")
	}
}

func TestTranslateStopsWhenQuotaIsExhausted(t *testing.T) {
	dir := isolate(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(456)
		_, _ = w.Write([]byte(`{"message":"Quota exceeded"}`))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("DOCTRANS_DEEPL_ENDPOINT", srv.URL)

	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(in, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		if err := os.WriteFile(filepath.Join(in, name), []byte("Hello.\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	err := execute("translate", "--api-key", "k", "--no-cache", "-t", "de", in, out)
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("service called %d times, want 1", n)
	}
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		if fileExists(filepath.Join(out, name)) {
			t.Errorf("%s written after quota error", name)
		}
	}
}

func TestTranslateDryRunNeedsNoKey(t *testing.T) {
	dir := isolate(t)
	src := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(src, []byte("Hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := execute("translate", "--dry-run", "-t", "de", src); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if fileExists(filepath.Join(dir, "doc.de.md")) {
		t.Error("dry run wrote output")
	}
}

func TestTranslateErrors(t *testing.T) {
	dir := isolate(t)
	src := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(src, []byte("Hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	txt := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(txt, []byte("Hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no target", []string{"translate", src}, "target language"},
		{"no key", []string{"translate", "-t", "de", src}, "no API key for deepl"},
		{"bad provider", []string{"translate", "--provider", "bing", "-t", "de", src}, "unknown provider"},
		{"bad formality", []string{"translate", "--formality", "casual", "-t", "de", src}, "formality"},
		{"unsupported file", []string{"translate", "-t", "de", txt}, "unsupported file type"},
		{"directory without output", []string{"translate", "-t", "de", dir}, "output directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAuthSetListRemove(t *testing.T) {
	isolate(t)

	if err := execute("auth", "set", "deepl", "secret-key:fx"); err != nil {
		t.Fatalf("auth set: %v", err)
	}
	if err := execute("auth", "set", "bing", "x"); err == nil {
		t.Fatal("auth set accepted an unknown provider")
	}
	if err := execute("auth", "list"); err != nil {
		t.Fatalf("auth list: %v", err)
	}
	if err := execute("auth", "remove", "deepl"); err != nil {
		t.Fatalf("auth remove: %v", err)
	}
	if err := execute("auth", "remove"); err != nil {
		t.Fatalf("auth remove all: %v", err)
	}
}
