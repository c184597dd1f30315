package mdfile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/minios-linux/doctrans/doctree"
)

// markdown is CommonMark plus the GFM table, strikethrough and task list
// extensions.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
	),
)

// ParseBody parses a markdown body (no front matter) into a document tree.
func ParseBody(src []byte) *doctree.Node {
	return parseBody(src, 1)
}

// parseBody parses src whose first line is line firstLine of the file.
func parseBody(src []byte, firstLine int) *doctree.Node {
	root := markdown.Parser().Parse(text.NewReader(src))
	b := &builder{src: src, firstLine: firstLine}
	for i, c := range src {
		if c == '\n' {
			b.newlines = append(b.newlines, i)
		}
	}
	doc := b.block(root)
	doctree.Normalize(doc)
	return doc
}

// builder maps a goldmark AST onto a doctree.
type builder struct {
	src       []byte
	firstLine int
	newlines  []int
}

func (b *builder) block(n ast.Node) *doctree.Node {
	switch n := n.(type) {
	case *ast.Document:
		return b.blocks(doctree.New(doctree.KindDocument), n)

	case *ast.Paragraph, *ast.TextBlock:
		p := doctree.New(doctree.KindParagraph)
		b.locate(p, n)
		return b.inlines(p, n)

	case *ast.Heading:
		h := doctree.New(doctree.KindHeading).SetAttr(doctree.AttrLevel, strconv.Itoa(n.Level))
		b.locate(h, n)
		return b.inlines(h, n)

	case *ast.Blockquote:
		return b.blocks(doctree.New(doctree.KindBlockQuote), n)

	case *ast.List:
		l := doctree.New(doctree.KindList).
			SetAttr(doctree.AttrMarker, string(n.Marker)).
			SetAttr(doctree.AttrTight, strconv.FormatBool(n.IsTight))
		if n.IsOrdered() {
			l.SetAttr(doctree.AttrOrdered, "true")
			l.SetAttr(doctree.AttrStart, strconv.Itoa(n.Start))
		}
		return b.blocks(l, n)

	case *ast.ListItem:
		return b.blocks(doctree.New(doctree.KindListItem), n)

	case *ast.FencedCodeBlock:
		c := doctree.New(doctree.KindCodeBlock).
			SetAttr(doctree.AttrFenced, "true").
			SetAttr(doctree.AttrLiteral, b.lines(n))
		if n.Info != nil {
			c.SetAttr(doctree.AttrInfo, string(n.Info.Segment.Value(b.src)))
		}
		return c

	case *ast.CodeBlock:
		return doctree.New(doctree.KindCodeBlock).SetAttr(doctree.AttrLiteral, b.lines(n))

	case *ast.HTMLBlock:
		raw := b.lines(n)
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(b.src))
		}
		return doctree.New(doctree.KindHTMLBlock).SetAttr(doctree.AttrLiteral, raw)

	case *ast.ThematicBreak:
		return doctree.New(doctree.KindThematicBreak)

	case *east.Table:
		aligns := make([]string, len(n.Alignments))
		for i, a := range n.Alignments {
			aligns[i] = alignName(a)
		}
		t := doctree.New(doctree.KindTable).SetAttr(doctree.AttrAlign, strings.Join(aligns, ","))
		b.locate(t, n)
		return b.blocks(t, n)

	case *east.TableHeader:
		return b.blocks(doctree.New(doctree.KindTableRow).SetAttr(doctree.AttrHeader, "true"), n)

	case *east.TableRow:
		return b.blocks(doctree.New(doctree.KindTableRow), n)

	case *east.TableCell:
		return b.inlines(doctree.New(doctree.KindTableCell), n)
	}

	// Anything else is kept as an opaque node, which the encoder rejects at
	// block level.
	return doctree.New(doctree.KindOpaque).SetAttr(doctree.AttrRaw, b.lines(n))
}

func (b *builder) blocks(parent *doctree.Node, n ast.Node) *doctree.Node {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		parent.Append(b.block(c))
	}
	return parent
}

func (b *builder) inlines(parent *doctree.Node, n ast.Node) *doctree.Node {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		b.inline(parent, c)
	}
	return parent
}

func (b *builder) inline(parent *doctree.Node, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		v := n.Segment.Value(b.src)
		if n.IsRaw() {
			parent.Append(doctree.NewText(string(v)))
		} else {
			parent.Append(doctree.NewText(unescape(v)))
		}
		switch {
		case n.HardLineBreak():
			parent.Append(doctree.New(doctree.KindLineBreak))
		case n.SoftLineBreak():
			parent.Append(doctree.New(doctree.KindSoftBreak))
		}

	case *ast.String:
		parent.Append(doctree.NewText(string(n.Value)))

	case *ast.CodeSpan:
		parent.Append(doctree.New(doctree.KindCodeSpan).SetAttr(doctree.AttrLiteral, b.codeSpan(n)))

	case *ast.Emphasis:
		kind := doctree.KindEmphasis
		if n.Level >= 2 {
			kind = doctree.KindStrong
		}
		parent.Append(b.inlines(doctree.New(kind), n))

	case *east.Strikethrough:
		parent.Append(b.inlines(doctree.New(doctree.KindStrikethrough), n))

	case *ast.Link:
		l := doctree.New(doctree.KindLink).SetAttr(doctree.AttrHref, string(n.Destination))
		if len(n.Title) > 0 {
			l.SetAttr(doctree.AttrTitle, string(n.Title))
		}
		parent.Append(b.inlines(l, n))

	case *ast.Image:
		img := doctree.New(doctree.KindImage).
			SetAttr(doctree.AttrHref, string(n.Destination)).
			SetAttr(doctree.AttrAlt, b.plain(n))
		if len(n.Title) > 0 {
			img.SetAttr(doctree.AttrTitle, string(n.Title))
		}
		parent.Append(img)

	case *ast.AutoLink:
		parent.Append(doctree.New(doctree.KindAutoLink).
			SetAttr(doctree.AttrHref, string(n.URL(b.src))).
			SetAttr(doctree.AttrLiteral, string(n.Label(b.src))))

	case *ast.RawHTML:
		var raw strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			raw.Write(seg.Value(b.src))
		}
		parent.Append(doctree.New(doctree.KindInlineHTML).SetAttr(doctree.AttrLiteral, raw.String()))

	case *east.TaskCheckBox:
		parent.Append(doctree.New(doctree.KindTaskCheckBox).SetAttr(doctree.AttrChecked, strconv.FormatBool(n.IsChecked)))

	default:
		parent.Append(doctree.New(doctree.KindOpaque).SetAttr(doctree.AttrRaw, b.plain(n)))
	}
}

// lines concatenates the source lines of a block. The result always ends
// with a newline unless it is empty.
func (b *builder) lines(n ast.Node) string {
	if n.Type() != ast.TypeBlock {
		return ""
	}
	var s strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		s.Write(seg.Value(b.src))
	}
	out := s.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func (b *builder) codeSpan(n *ast.CodeSpan) string {
	var s strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			s.Write(t.Segment.Value(b.src))
		case *ast.String:
			s.Write(t.Value)
		}
	}
	return strings.ReplaceAll(s.String(), "\n", " ")
}

// plain returns the text content of an inline subtree, as used for image
// alt text.
func (b *builder) plain(n ast.Node) string {
	var s strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			s.WriteString(unescape(t.Segment.Value(b.src)))
			if t.SoftLineBreak() || t.HardLineBreak() {
				s.WriteByte(' ')
			}
		case *ast.String:
			s.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return s.String()
}

func (b *builder) locate(d *doctree.Node, n ast.Node) {
	if line := b.line(n); line > 0 {
		d.SetAttr(doctree.AttrLocation, "line "+strconv.Itoa(line))
	}
}

// line returns the source line a node starts on, or 0 if unknown.
func (b *builder) line(n ast.Node) int {
	for ; n != nil; n = n.FirstChild() {
		switch {
		case n.Type() == ast.TypeBlock && n.Lines().Len() > 0:
			return b.lineAt(n.Lines().At(0).Start)
		case n.Kind() == ast.KindText:
			return b.lineAt(n.(*ast.Text).Segment.Start)
		}
	}
	return 0
}

func (b *builder) lineAt(offset int) int {
	return b.firstLine + sort.SearchInts(b.newlines, offset)
}

func alignName(a east.Alignment) string {
	switch a {
	case east.AlignLeft:
		return "left"
	case east.AlignRight:
		return "right"
	case east.AlignCenter:
		return "center"
	case east.AlignNone:
		return ""
	}
	return ""
}

// unescape resolves backslash escapes and character references in inline
// text. Escaped characters are never taken as the start of a reference.
func unescape(v []byte) string {
	var out []byte
	start := 0
	flush := func(end int) {
		if end > start {
			chunk := util.ResolveNumericReferences(util.ResolveEntityNames(v[start:end]))
			out = append(out, chunk...)
		}
	}
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) && util.IsPunct(v[i+1]) {
			flush(i)
			out = append(out, v[i+1])
			i++
			start = i + 1
		}
	}
	flush(len(v))
	return string(out)
}
