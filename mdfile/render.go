package mdfile

import (
	"strconv"
	"strings"

	"github.com/minios-linux/doctrans/doctree"
)

// Render serializes a document tree as CommonMark. Rendering is canonical
// rather than faithful to the source bytes: headings are ATX, emphasis uses
// asterisks, thematic breaks are "***" and indented code stays indented.
// Parsing the output yields a tree equal to the input.
func Render(doc *doctree.Node) string {
	out := renderBlock(doc)
	if out == "" {
		return ""
	}
	return out + "\n"
}

func renderBlocks(nodes []*doctree.Node, sep string) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, renderBlock(n))
	}
	return strings.Join(parts, sep)
}

func renderBlock(n *doctree.Node) string {
	switch n.Kind {
	case doctree.KindDocument:
		return renderBlocks(n.Children, "\n\n")

	case doctree.KindParagraph, doctree.KindCell:
		return renderInlines(n.Children, inlineCtx{})

	case doctree.KindHeading:
		level, _ := strconv.Atoi(n.Attr(doctree.AttrLevel))
		level = min(max(level, 1), 6)
		hashes := strings.Repeat("#", level)
		body := renderInlines(n.Children, inlineCtx{heading: true})
		if body == "" {
			return hashes
		}
		return hashes + " " + body

	case doctree.KindBlockQuote:
		return prefixLines(renderBlocks(n.Children, "\n\n"), "> ", ">")

	case doctree.KindList:
		return renderList(n)

	case doctree.KindListItem:
		return renderBlocks(n.Children, "\n\n")

	case doctree.KindCodeBlock:
		return renderCode(n)

	case doctree.KindHTMLBlock:
		return strings.TrimSuffix(n.Attr(doctree.AttrLiteral), "\n")

	case doctree.KindThematicBreak:
		return "***"

	case doctree.KindTable:
		return renderTable(n)

	case doctree.KindTableRow:
		return renderRow(n)

	case doctree.KindTableCell:
		return renderInlines(n.Children, inlineCtx{table: true})

	case doctree.KindOpaque:
		return strings.TrimSuffix(n.Attr(doctree.AttrRaw), "\n")

	case doctree.KindText, doctree.KindEmphasis, doctree.KindStrong, doctree.KindStrikethrough,
		doctree.KindLink, doctree.KindImage, doctree.KindAutoLink, doctree.KindCodeSpan,
		doctree.KindInlineHTML, doctree.KindLineBreak, doctree.KindSoftBreak,
		doctree.KindTaskCheckBox, doctree.KindRun:
		return renderInlines([]*doctree.Node{n}, inlineCtx{})

	case doctree.KindInvalid:
		return ""
	}
	return ""
}

func renderList(n *doctree.Node) string {
	tight := n.Attr(doctree.AttrTight) == "true"
	ordered := n.Attr(doctree.AttrOrdered) == "true"
	marker := n.Attr(doctree.AttrMarker)
	if marker == "" {
		marker = "-"
		if ordered {
			marker = "."
		}
	}
	start := 1
	if s, err := strconv.Atoi(n.Attr(doctree.AttrStart)); err == nil {
		start = s
	}
	sep := "\n\n"
	if tight {
		sep = "\n"
	}

	items := make([]string, 0, len(n.Children))
	for i, item := range n.Children {
		bullet := marker
		if ordered {
			bullet = strconv.Itoa(start+i) + marker
		}
		body := renderBlocks(item.Children, sep)
		if body == "" {
			items = append(items, bullet)
			continue
		}
		items = append(items, prefixFirst(body, bullet+" "))
	}
	return strings.Join(items, sep)
}

func renderCode(n *doctree.Node) string {
	lit := n.Attr(doctree.AttrLiteral)
	body := strings.TrimSuffix(lit, "\n")
	if n.Attr(doctree.AttrFenced) != "true" {
		return prefixLines(body, "    ", "")
	}
	info := n.Attr(doctree.AttrInfo)
	fc := byte('`')
	if strings.IndexByte(info, '`') >= 0 {
		fc = '~'
	}
	fence := strings.Repeat(string(fc), max(3, longestRun(lit, fc)+1))
	if lit == "" {
		return fence + info + "\n" + fence
	}
	return fence + info + "\n" + body + "\n" + fence
}

func renderTable(n *doctree.Node) string {
	if len(n.Children) == 0 {
		return ""
	}
	var aligns []string
	if a := n.Attr(doctree.AttrAlign); a != "" {
		aligns = strings.Split(a, ",")
	}
	lines := make([]string, 0, len(n.Children)+1)
	for i, row := range n.Children {
		lines = append(lines, renderRow(row))
		if i > 0 {
			continue
		}
		delims := make([]string, len(row.Children))
		for j := range delims {
			align := ""
			if j < len(aligns) {
				align = aligns[j]
			}
			switch align {
			case "left":
				delims[j] = ":---"
			case "right":
				delims[j] = "---:"
			case "center":
				delims[j] = ":---:"
			default:
				delims[j] = "---"
			}
		}
		lines = append(lines, "| "+strings.Join(delims, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

func renderRow(row *doctree.Node) string {
	cells := make([]string, len(row.Children))
	for j, c := range row.Children {
		cells[j] = renderInlines(c.Children, inlineCtx{table: true})
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

// ---------------------------------------------------------------------------
// Inlines
// ---------------------------------------------------------------------------

type inlineCtx struct {
	table   bool
	heading bool
}

type inlineWriter struct {
	b         strings.Builder
	ctx       inlineCtx
	lineStart bool
}

func renderInlines(nodes []*doctree.Node, ctx inlineCtx) string {
	w := &inlineWriter{ctx: ctx, lineStart: true}
	for _, n := range nodes {
		w.node(n)
	}
	// Line breaks at the edges of a block would open or close it early.
	out := strings.TrimLeft(w.b.String(), "\n")
	for strings.HasSuffix(out, "\n") && !strings.HasSuffix(out, "\\\n") {
		out = out[:len(out)-1]
	}
	return out
}

func (w *inlineWriter) write(s string) {
	if s == "" {
		return
	}
	w.b.WriteString(s)
	w.lineStart = false
}

// sub renders children in a fresh writer that does not start a line.
func (w *inlineWriter) sub(children []*doctree.Node) string {
	s := &inlineWriter{ctx: w.ctx}
	for _, c := range children {
		s.node(c)
	}
	return s.b.String()
}

func (w *inlineWriter) node(n *doctree.Node) {
	switch n.Kind {
	case doctree.KindText:
		text := escapeText(foldNewlines(n.Text, w.ctx), w.lineStart, w.ctx)
		if text != "" {
			w.write(text)
			w.lineStart = strings.HasSuffix(text, "\n")
		}

	case doctree.KindEmphasis:
		w.delimited(n, "*")
	case doctree.KindStrong:
		w.delimited(n, "**")
	case doctree.KindStrikethrough:
		w.delimited(n, "~~")

	case doctree.KindLink:
		w.guardBang()
		w.write("[" + w.sub(n.Children) + "](" + destination(n.Attr(doctree.AttrHref)) + title(n.Attr(doctree.AttrTitle)) + ")")

	case doctree.KindImage:
		alt := escapeText(n.Attr(doctree.AttrAlt), false, w.ctx)
		w.guardBang()
		w.write("![" + alt + "](" + destination(n.Attr(doctree.AttrHref)) + title(n.Attr(doctree.AttrTitle)) + ")")

	case doctree.KindAutoLink:
		w.write("<" + n.Attr(doctree.AttrLiteral) + ">")

	case doctree.KindCodeSpan:
		w.write(codeSpan(n.Attr(doctree.AttrLiteral), w.ctx.table))

	case doctree.KindInlineHTML:
		w.write(n.Attr(doctree.AttrLiteral))

	case doctree.KindLineBreak:
		w.b.WriteString("\\\n")
		w.lineStart = true

	case doctree.KindSoftBreak:
		w.b.WriteString("\n")
		w.lineStart = true

	case doctree.KindTaskCheckBox:
		if n.Attr(doctree.AttrChecked) == "true" {
			w.write("[x] ")
		} else {
			w.write("[ ] ")
		}

	case doctree.KindRun, doctree.KindParagraph, doctree.KindHeading, doctree.KindTableCell, doctree.KindCell:
		for _, c := range n.Children {
			w.node(c)
		}

	case doctree.KindOpaque:
		w.write(n.Attr(doctree.AttrRaw))

	case doctree.KindDocument, doctree.KindBlockQuote, doctree.KindList, doctree.KindListItem,
		doctree.KindTable, doctree.KindTableRow, doctree.KindCodeBlock, doctree.KindHTMLBlock,
		doctree.KindThematicBreak, doctree.KindInvalid:
		// Blocks never appear inside inline content.
	}
}

// delimited writes an emphasis-like span. Whitespace at the edges of the
// content is moved outside the delimiters, where it cannot prevent the span
// from being recognized.
func (w *inlineWriter) delimited(n *doctree.Node, delim string) {
	inner := w.sub(n.Children)
	core := strings.TrimLeft(inner, " \t")
	lead := inner[:len(inner)-len(core)]
	trimmed := strings.TrimRight(core, " \t")
	trail := core[len(trimmed):]
	if trimmed == "" {
		w.write(inner)
		return
	}
	w.write(lead + delim + trimmed + delim + trail)
}

// guardBang escapes a "!" left unescaped at the end of the output, which
// would turn the link that follows into an image.
func (w *inlineWriter) guardBang() {
	s := w.b.String()
	if !strings.HasSuffix(s, "!") {
		return
	}
	slashes := 0
	for i := len(s) - 2; i >= 0 && s[i] == '\\'; i-- {
		slashes++
	}
	if slashes%2 == 1 {
		return
	}
	w.b.Reset()
	w.b.WriteString(s[:len(s)-1])
	w.b.WriteString(`\!`)
}

// foldNewlines keeps text inside the block it came from. Translated text
// may carry line breaks: headings and table cells are single-line, and a
// blank line would end a paragraph.
func foldNewlines(s string, ctx inlineCtx) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(s)
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for i, l := range lines {
		if strings.TrimSpace(l) == "" && i > 0 && i < len(lines)-1 {
			continue
		}
		kept = append(kept, l)
	}
	sep := "\n"
	if ctx.heading || ctx.table {
		sep = " "
	}
	return strings.Join(kept, sep)
}

// escapeText backslash-escapes every character that could start markdown
// syntax. lineStart reports whether s begins a line of the block.
func escapeText(s string, lineStart bool, ctx inlineCtx) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		atLine := (i == 0 && lineStart) || (i > 0 && s[i-1] == '\n')
		switch c {
		case '\\', '`', '*', '[', ']', '<', '>', '&', '~':
			b.WriteByte('\\')
		case '_':
			if !(i > 0 && isAlnum(s[i-1]) && i+1 < len(s) && isAlnum(s[i+1])) {
				b.WriteByte('\\')
			}
		case '|':
			if ctx.table {
				b.WriteByte('\\')
			}
		case '#':
			if atLine || ctx.heading {
				b.WriteByte('\\')
			}
		case '-', '+', '=':
			if atLine {
				b.WriteByte('\\')
			}
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			if atLine {
				j := i
				for j < len(s) && s[j] >= '0' && s[j] <= '9' {
					j++
				}
				b.WriteString(s[i:j])
				if j < len(s) && (s[j] == '.' || s[j] == ')') {
					b.WriteByte('\\')
					b.WriteByte(s[j])
					j++
				}
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// codeSpan fences a literal. In a table cell pipes are escaped, since the
// row is split before code spans are recognized.
func codeSpan(lit string, table bool) string {
	fence := strings.Repeat("`", longestRun(lit, '`')+1)
	pad := strings.HasPrefix(lit, "`") || strings.HasSuffix(lit, "`") ||
		(len(lit) > 1 && lit[0] == ' ' && lit[len(lit)-1] == ' ' && strings.Trim(lit, " ") != "")
	if table {
		lit = strings.ReplaceAll(lit, "|", `\|`)
	}
	if pad {
		return fence + " " + lit + " " + fence
	}
	return fence + lit + fence
}

func destination(href string) string {
	if href == "" || strings.ContainsAny(href, " \t\n<>") || !balancedParens(href) {
		r := strings.NewReplacer("<", `\<`, ">", `\>`, "\n", " ")
		return "<" + r.Replace(href) + ">"
	}
	return href
}

func balancedParens(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// title quotes a raw link title with a delimiter that does not occur in it.
func title(t string) string {
	switch {
	case t == "":
		return ""
	case !strings.Contains(t, `"`):
		return ` "` + t + `"`
	case !strings.Contains(t, "'"):
		return " '" + t + "'"
	case !strings.ContainsAny(t, "()"):
		return " (" + t + ")"
	}
	return ` "` + strings.ReplaceAll(t, `"`, `\"`) + `"`
}

// ---------------------------------------------------------------------------
// Line helpers
// ---------------------------------------------------------------------------

// prefixLines prefixes every line of s. Empty lines get blank instead.
func prefixLines(s, prefix, blank string) string {
	if s == "" {
		return blank
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = blank
		} else {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// prefixFirst puts first before the first line of s and indents the rest
// by its width.
func prefixFirst(s, first string) string {
	indent := strings.Repeat(" ", len(first))
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		switch {
		case i == 0:
			lines[i] = first + l
		case l != "":
			lines[i] = indent + l
		}
	}
	return strings.Join(lines, "\n")
}

func longestRun(s string, c byte) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}
