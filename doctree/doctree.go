// Package doctree implements the format-neutral document tree shared by the
// markdown and spreadsheet adapters and by the tag codec.
//
// A tree is made of *Node values. A node is either a Text leaf, holding a
// literal string meant for translation, or a structural node of one of the
// kinds below, holding ordered children and kind-specific attributes.
// Structural nodes never carry translatable text themselves, only through
// Text descendants.
package doctree

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

// Kind identifies the type of a node. The set is closed: every switch over
// Kind in this module handles all of them, and anything not listed here is
// rejected by the encoder.
type Kind int

const (
	KindInvalid Kind = iota

	// Leaf carrying translatable text.
	KindText

	// Block containers.
	KindDocument
	KindBlockQuote
	KindList
	KindListItem
	KindTable
	KindTableRow

	// Blocks holding inline content (unit roots).
	KindParagraph
	KindHeading
	KindTableCell

	// Opaque blocks, passed through untranslated.
	KindCodeBlock
	KindHTMLBlock
	KindThematicBreak

	// Inline containers.
	KindEmphasis
	KindStrong
	KindStrikethrough
	KindLink

	// Void or opaque inlines.
	KindImage
	KindAutoLink
	KindCodeSpan
	KindInlineHTML
	KindLineBreak
	KindSoftBreak
	KindTaskCheckBox

	// Spreadsheet cell and its rich-text runs.
	KindCell
	KindRun

	// Opaque is the catch-all passthrough for anything an adapter cannot
	// map. The node keeps its raw source in the "raw" attribute.
	KindOpaque

	kindCount
)

var kindNames = [...]string{
	KindInvalid:       "Invalid",
	KindText:          "Text",
	KindDocument:      "Document",
	KindBlockQuote:    "BlockQuote",
	KindList:          "List",
	KindListItem:      "ListItem",
	KindTable:         "Table",
	KindTableRow:      "TableRow",
	KindParagraph:     "Paragraph",
	KindHeading:       "Heading",
	KindTableCell:     "TableCell",
	KindCodeBlock:     "CodeBlock",
	KindHTMLBlock:     "HTMLBlock",
	KindThematicBreak: "ThematicBreak",
	KindEmphasis:      "Emphasis",
	KindStrong:        "Strong",
	KindStrikethrough: "Strikethrough",
	KindLink:          "Link",
	KindImage:         "Image",
	KindAutoLink:      "AutoLink",
	KindCodeSpan:      "CodeSpan",
	KindInlineHTML:    "InlineHTML",
	KindLineBreak:     "LineBreak",
	KindSoftBreak:     "SoftBreak",
	KindTaskCheckBox:  "TaskCheckBox",
	KindCell:          "Cell",
	KindRun:           "Run",
	KindOpaque:        "Opaque",
}

// String returns the kind name.
func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k belongs to the recognized set.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindCount
}

// Class groups kinds by the role they play during encoding.
type Class int

const (
	ClassInvalid   Class = iota
	ClassText            // literal text leaf
	ClassContainer       // block holding other blocks
	ClassUnitRoot        // block holding inline content, one translation unit
	ClassOpaqueBlock     // block passed through verbatim
	ClassInline          // inline holding inline content
	ClassVoid            // inline without translatable content
)

// Class returns the role of the kind.
func (k Kind) Class() Class {
	switch k {
	case KindText:
		return ClassText
	case KindDocument, KindBlockQuote, KindList, KindListItem, KindTable, KindTableRow:
		return ClassContainer
	case KindParagraph, KindHeading, KindTableCell, KindCell:
		return ClassUnitRoot
	case KindCodeBlock, KindHTMLBlock, KindThematicBreak:
		return ClassOpaqueBlock
	case KindEmphasis, KindStrong, KindStrikethrough, KindLink, KindRun:
		return ClassInline
	case KindImage, KindAutoLink, KindCodeSpan, KindInlineHTML, KindLineBreak,
		KindSoftBreak, KindTaskCheckBox, KindOpaque:
		return ClassVoid
	case KindInvalid, kindCount:
		return ClassInvalid
	}
	return ClassInvalid
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Common attribute names.
const (
	AttrHref     = "href"
	AttrTitle    = "title"
	AttrLevel    = "level"
	AttrLiteral  = "literal"
	AttrInfo     = "info"
	AttrFenced   = "fenced"
	AttrAlign    = "align"
	AttrStart    = "start"
	AttrMarker   = "marker"
	AttrOrdered  = "ordered"
	AttrTight    = "tight"
	AttrChecked  = "checked"
	AttrAlt      = "alt"
	AttrRaw      = "raw"
	AttrHeader   = "header"
	AttrAxis     = "axis"
	AttrSheet    = "sheet"
	AttrLocation = "location"
)

// Node is one element of a document tree.
type Node struct {
	Kind     Kind
	Text     string            // only for KindText
	Attrs    map[string]string // kind-specific attributes
	Children []*Node

	// Payload carries adapter data that has no string form (e.g. the font
	// of a spreadsheet rich-text run). It is copied, never inspected, by
	// the codec.
	Payload any
}

// NewText returns a Text leaf.
func NewText(s string) *Node {
	return &Node{Kind: KindText, Text: s}
}

// New returns a structural node with the given children.
func New(kind Kind, children ...*Node) *Node {
	return &Node{Kind: kind, Children: children}
}

// SetAttr sets an attribute and returns n for chaining.
func (n *Node) SetAttr(key, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	return n
}

// Attr returns the attribute value or "".
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// Append adds children to n.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// IsText reports whether n is a Text leaf.
func (n *Node) IsText() bool {
	return n != nil && n.Kind == KindText
}

// Shallow returns a copy of n without children. Attributes are copied,
// Payload is shared.
func (n *Node) Shallow() *Node {
	c := &Node{Kind: n.Kind, Text: n.Text, Payload: n.Payload}
	if len(n.Attrs) > 0 {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	return c
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := n.Shallow()
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// HasText reports whether the subtree rooted at n contains a Text leaf with
// non-whitespace content.
func (n *Node) HasText() bool {
	if n == nil {
		return false
	}
	if n.Kind == KindText {
		return strings.TrimSpace(n.Text) != ""
	}
	for _, c := range n.Children {
		if c.HasText() {
			return true
		}
	}
	return false
}

// PlainText concatenates all Text leaves of the subtree.
func (n *Node) PlainText() string {
	var b strings.Builder
	Walk(n, func(x *Node) bool {
		if x.Kind == KindText {
			b.WriteString(x.Text)
		}
		return true
	})
	return b.String()
}

// Walk visits the subtree pre-order. Returning false from fn skips the
// children of the visited node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// ---------------------------------------------------------------------------
// Comparison and debugging
// ---------------------------------------------------------------------------

// Equal reports whether two subtrees have the same kinds, attributes, text
// and child order. Payloads are compared with ==; location attributes are
// ignored.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Text != b.Text || len(a.Children) != len(b.Children) {
		return false
	}
	if !sameAttrs(a.Attrs, b.Attrs) || !sameAttrs(b.Attrs, a.Attrs) {
		return false
	}
	if a.Payload != b.Payload {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// sameAttrs reports whether every attribute of a is in b with the same
// value. Locations describe where a node came from, not what it is, and are
// ignored.
func sameAttrs(a, b map[string]string) bool {
	for k, v := range a {
		if k == AttrLocation {
			continue
		}
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Dump renders the subtree in an indented, deterministic form. Used in test
// failure output and --dry-run diagnostics.
func Dump(n *Node) string {
	var b strings.Builder
	dump(&b, n, 0)
	return b.String()
}

func dump(b *strings.Builder, n *Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Kind.String())
	if n.Kind == KindText {
		fmt.Fprintf(b, " %q", n.Text)
	}
	if len(n.Attrs) > 0 {
		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, " %s=%q", k, n.Attrs[k])
		}
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		dump(b, c, depth+1)
	}
}

// Normalize merges adjacent Text leaves and drops empty ones, recursively.
// Adapters call it after building a tree so that equal documents produce
// equal trees regardless of how the parser split text runs.
func Normalize(n *Node) {
	if n == nil || len(n.Children) == 0 {
		return
	}
	out := n.Children[:0]
	for _, c := range n.Children {
		if c.Kind == KindText {
			if c.Text == "" {
				continue
			}
			if k := len(out); k > 0 && out[k-1].Kind == KindText {
				out[k-1] = NewText(out[k-1].Text + c.Text)
				continue
			}
		} else {
			Normalize(c)
		}
		out = append(out, c)
	}
	for i := len(out); i < len(n.Children); i++ {
		n.Children[i] = nil
	}
	n.Children = out
}
