// Package tagcodec turns document subtrees into tagged strings for the
// translation service and rebuilds subtrees from the translated strings.
//
// Every structural node inside a translation unit is replaced by an inert
// numbered marker: <n>…</n> for nodes with inline content (emphasis, links,
// runs) and <n/> for void or opaque nodes (line breaks, code spans, images).
// Numbers are assigned pre-order starting at 1 and restart for every unit.
// The unit keeps a side table from marker number to node template, so
// decoding is a lookup by index and never depends on where the service
// moved a marker.
//
// Literal text is escaped so that it can never be read as a marker:
// '&', '<' and '>' are written as &amp;, &lt; and &gt;.
package tagcodec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/minios-linux/doctrans/doctree"
)

// ErrUnsupportedNodeKind is returned when a node of a kind the encoder has
// no marker for appears where translatable content is expected.
var ErrUnsupportedNodeKind = errors.New("unsupported node kind")

// UnsupportedKindError describes where an unsupported node was found.
type UnsupportedKindError struct {
	Kind     doctree.Kind
	Location string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Location, ErrUnsupportedNodeKind)
}

func (e *UnsupportedKindError) Unwrap() error { return ErrUnsupportedNodeKind }

// Unit is one translation unit: the tagged string of one root region plus
// everything needed to splice the translation back.
type Unit struct {
	// ID is unique within one encoder run, assigned 1..N in document order.
	ID int
	// Root is the node whose children are replaced on splice.
	Root *doctree.Node
	// Location is a human-readable position used in reports.
	Location string
	// Tagged is the string sent to the translation service.
	Tagged string
	// Opaque units contain no translatable text and are never submitted.
	Opaque bool

	// table[n] is the template for marker n; table[0] is unused.
	table []*doctree.Node
}

// Markers returns the number of markers in the unit.
func (u *Unit) Markers() int {
	if len(u.table) == 0 {
		return 0
	}
	return len(u.table) - 1
}

// Size returns the payload size of the unit in bytes.
func (u *Unit) Size() int {
	return len(u.Tagged)
}

// Splice replaces the root's children with the decoded subtree. Unit roots
// never overlap, so splices for different units are independent.
func (u *Unit) Splice(children []*doctree.Node) {
	u.Root.Children = children
}

// ---------------------------------------------------------------------------
// Encoder
// ---------------------------------------------------------------------------

// Encoder collects units from one or more trees, numbering them
// sequentially.
type Encoder struct {
	units []*Unit
}

// Units returns the units collected so far, in document order.
func (e *Encoder) Units() []*Unit {
	return e.units
}

// AddRoot encodes a single unit root, such as a spreadsheet cell or a front
// matter value wrapped in a paragraph.
func (e *Encoder) AddRoot(root *doctree.Node, location string) (*Unit, error) {
	u, err := Encode(root, len(e.units)+1, location)
	if err != nil {
		return nil, err
	}
	e.units = append(e.units, u)
	return u, nil
}

// AddDocument walks a block tree pre-order and encodes every unit root it
// finds. Container blocks are descended into; opaque blocks are skipped.
func (e *Encoder) AddDocument(root *doctree.Node) error {
	return e.walkBlock(root, root.Kind.String())
}

func (e *Encoder) walkBlock(n *doctree.Node, loc string) error {
	if l := n.Attr(doctree.AttrLocation); l != "" {
		loc = l
	}
	switch n.Kind.Class() {
	case doctree.ClassContainer:
		for i, c := range n.Children {
			if err := e.walkBlock(c, fmt.Sprintf("%s/%s[%d]", loc, c.Kind, i)); err != nil {
				return err
			}
		}
		return nil
	case doctree.ClassUnitRoot:
		_, err := e.AddRoot(n, loc)
		return err
	case doctree.ClassOpaqueBlock:
		return nil
	case doctree.ClassText, doctree.ClassInline, doctree.ClassVoid, doctree.ClassInvalid:
		// Inline content directly inside a container has no unit root to
		// splice into.
		return &UnsupportedKindError{Kind: n.Kind, Location: loc}
	}
	return &UnsupportedKindError{Kind: n.Kind, Location: loc}
}

// Encode builds the unit for one root. The root itself is not encoded, only
// its children.
func Encode(root *doctree.Node, id int, location string) (*Unit, error) {
	u := &Unit{ID: id, Root: root, Location: location}
	if !root.HasText() {
		u.Opaque = true
		return u, nil
	}

	enc := encoder{table: []*doctree.Node{nil}, loc: location}
	for _, c := range root.Children {
		if err := enc.inline(c); err != nil {
			return nil, err
		}
	}
	u.Tagged = enc.b.String()
	u.table = enc.table
	return u, nil
}

type encoder struct {
	b     strings.Builder
	table []*doctree.Node
	loc   string
}

func (e *encoder) inline(n *doctree.Node) error {
	switch n.Kind.Class() {
	case doctree.ClassText:
		escapeTo(&e.b, n.Text)
		return nil
	case doctree.ClassInline:
		num := e.add(n.Shallow())
		e.open(num)
		for _, c := range n.Children {
			if err := e.inline(c); err != nil {
				return err
			}
		}
		e.close(num)
		return nil
	case doctree.ClassVoid:
		num := e.add(n.Clone())
		e.void(num)
		return nil
	case doctree.ClassContainer, doctree.ClassUnitRoot, doctree.ClassOpaqueBlock, doctree.ClassInvalid:
		return &UnsupportedKindError{Kind: n.Kind, Location: e.loc}
	}
	return &UnsupportedKindError{Kind: n.Kind, Location: e.loc}
}

func (e *encoder) add(tmpl *doctree.Node) int {
	e.table = append(e.table, tmpl)
	return len(e.table) - 1
}

func (e *encoder) open(n int) {
	e.b.WriteByte('<')
	e.b.WriteString(strconv.Itoa(n))
	e.b.WriteByte('>')
}

func (e *encoder) close(n int) {
	e.b.WriteString("</")
	e.b.WriteString(strconv.Itoa(n))
	e.b.WriteByte('>')
}

func (e *encoder) void(n int) {
	e.b.WriteByte('<')
	e.b.WriteString(strconv.Itoa(n))
	e.b.WriteString("/>")
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeTo(b *strings.Builder, s string) {
	_, _ = escaper.WriteString(b, s)
}
