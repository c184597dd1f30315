// Package mdfile reads and writes markdown documents for translation.
//
// A file is split into an optional front matter block and a markdown body:
//
//   - Front matter is YAML between --- delimiters or TOML between +++
//     delimiters. It is written back byte for byte unless one of the
//     configured keys (dotted paths such as "extra.time") holds a string,
//     in which case that value becomes a translation unit and the block is
//     re-encoded after translation.
//
//   - The body is parsed with goldmark (CommonMark plus GFM tables,
//     strikethrough and task lists) into a doctree. Paragraphs, headings
//     and table cells become translation units; code and HTML blocks are
//     passed through untouched.
//
// Hugo and Zola shortcodes ({{...}} and {%...%}) can be hidden from the
// parser as HTML comments so they survive translation verbatim.
package mdfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minios-linux/doctrans/doctree"
	"github.com/minios-linux/doctrans/tagcodec"
)

// DefaultFrontMatterKeys are the front matter values translated when none
// are configured.
var DefaultFrontMatterKeys = []string{"title", "description", "extra.time"}

// Options controls parsing.
type Options struct {
	// FrontMatterKeys lists dotted paths of front matter strings to
	// translate. Nil means none.
	FrontMatterKeys []string
	// EscapeShortcodes hides {{...}} and {%...%} from the markdown parser.
	EscapeShortcodes bool
}

// File is a parsed markdown document.
type File struct {
	// Body is the document tree of the markdown body. Translation splices
	// into it in place.
	Body *doctree.Node

	fm   *frontMatter
	opts Options
}

// ParseFile reads and parses a markdown file.
func ParseFile(path string, opts Options) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse parses markdown data.
func Parse(data []byte, opts Options) (*File, error) {
	f := &File{opts: opts}

	fm, body, err := splitFrontMatter(data, opts.FrontMatterKeys)
	if err != nil {
		return nil, err
	}
	f.fm = fm

	firstLine := 1
	if fm != nil {
		firstLine += bytes.Count(fm.block, []byte{'\n'})
	}
	if opts.EscapeShortcodes {
		body = []byte(escapeShortcodes(string(body)))
	}
	f.Body = parseBody(body, firstLine)
	return f, nil
}

// Units encodes the front matter values and the body into translation
// units, front matter first.
func (f *File) Units() ([]*tagcodec.Unit, error) {
	var enc tagcodec.Encoder
	if f.fm != nil {
		for _, fld := range f.fm.fields {
			if _, err := enc.AddRoot(fld.root, "front matter "+fld.key); err != nil {
				return nil, err
			}
		}
	}
	if err := enc.AddDocument(f.Body); err != nil {
		return nil, err
	}
	return enc.Units(), nil
}

// Marshal renders the document back to markdown.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if f.fm != nil {
		block, err := f.fm.render()
		if err != nil {
			return nil, fmt.Errorf("marshaling front matter: %w", err)
		}
		buf.Write(block)
	}
	body := Render(f.Body)
	if f.opts.EscapeShortcodes {
		body = unescapeShortcodes(body)
	}
	if f.fm != nil && body != "" {
		buf.WriteByte('\n')
	}
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// WriteFile renders the document and writes it to path.
func (f *File) WriteFile(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling markdown: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shortcodes
// ---------------------------------------------------------------------------

var shortcodeClosers = map[string]string{"{{": "}}", "{%": "%}"}

// escapeShortcodes wraps every shortcode in an HTML comment. An unclosed
// shortcode runs to the end of the text.
func escapeShortcodes(s string) string {
	var b strings.Builder
	for {
		before, open, after, ok := cutFirst(s, "{{", "{%")
		if !ok {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(before)
		code, tail, closed := strings.Cut(after, shortcodeClosers[open])
		b.WriteString("<!--" + open + code + shortcodeClosers[open] + "-->")
		if !closed {
			return b.String()
		}
		s = tail
	}
}

// unescapeShortcodes reverses escapeShortcodes.
func unescapeShortcodes(s string) string {
	var b strings.Builder
	for {
		before, open, after, ok := cutFirst(s, "<!--{{", "<!--{%")
		if !ok {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(before)
		opener := strings.TrimPrefix(open, "<!--")
		code, tail, closed := strings.Cut(after, shortcodeClosers[opener]+"-->")
		if !closed {
			b.WriteString(open + after)
			return b.String()
		}
		b.WriteString(opener + code + shortcodeClosers[opener])
		s = tail
	}
}

// cutFirst cuts s around the earliest of seps.
func cutFirst(s string, seps ...string) (before, sep, after string, found bool) {
	at := -1
	for _, cand := range seps {
		if i := strings.Index(s, cand); i >= 0 && (at < 0 || i < at) {
			at, sep = i, cand
		}
	}
	if at < 0 {
		return s, "", "", false
	}
	return s[:at], sep, s[at+len(sep):], true
}
