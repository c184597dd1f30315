package tagcodec

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/minios-linux/doctrans/doctree"
)

// ErrMalformedResponse is returned when a translated string does not carry
// exactly the markers of its unit.
var ErrMalformedResponse = errors.New("malformed translation response")

// MalformedError describes why a translated string was rejected.
type MalformedError struct {
	UnitID int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("unit %d: %v: %s", e.UnitID, ErrMalformedResponse, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedResponse }

type tokenKind int

const (
	tokText tokenKind = iota
	tokOpen
	tokClose
	tokVoid
)

type token struct {
	kind tokenKind
	num  int
	text string
}

// Decode rebuilds the children of u's root from a translated tagged string.
// The returned nodes are fresh; u.Root is not modified until Splice.
func Decode(u *Unit, translated string) ([]*doctree.Node, error) {
	if u.Opaque {
		return nil, &MalformedError{UnitID: u.ID, Reason: "opaque unit has no translation"}
	}

	type frame struct {
		num  int
		node *doctree.Node
	}
	root := &doctree.Node{}
	stack := []frame{{num: 0, node: root}}
	seen := make([]bool, len(u.table))
	used := 0

	for _, tok := range tokenize(translated) {
		top := stack[len(stack)-1]
		switch tok.kind {
		case tokText:
			appendText(top.node, html.UnescapeString(tok.text))

		case tokOpen, tokVoid:
			tmpl, err := u.lookup(tok.num, seen)
			if err != nil {
				return nil, err
			}
			paired := tmpl.Kind.Class() == doctree.ClassInline
			if tok.kind == tokOpen && !paired {
				return nil, u.malformed("marker %d is void but was opened", tok.num)
			}
			if tok.kind == tokVoid && paired {
				return nil, u.malformed("marker %d needs a closing tag", tok.num)
			}
			seen[tok.num] = true
			used++
			if tok.kind == tokVoid {
				top.node.Children = append(top.node.Children, tmpl.Clone())
				continue
			}
			n := tmpl.Shallow()
			top.node.Children = append(top.node.Children, n)
			stack = append(stack, frame{num: tok.num, node: n})

		case tokClose:
			if top.num != tok.num {
				if top.num == 0 {
					return nil, u.malformed("closing marker %d was never opened", tok.num)
				}
				return nil, u.malformed("closing marker %d while %d is open", tok.num, top.num)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 1 {
		return nil, u.malformed("marker %d is not closed", stack[len(stack)-1].num)
	}
	if used != u.Markers() {
		for i := 1; i < len(seen); i++ {
			if !seen[i] {
				return nil, u.malformed("marker %d is missing", i)
			}
		}
	}
	return root.Children, nil
}

// RoundTrip decodes the unit's own tagged string, which must reproduce the
// unit's children.
func RoundTrip(u *Unit) ([]*doctree.Node, error) {
	return Decode(u, u.Tagged)
}

func (u *Unit) lookup(num int, seen []bool) (*doctree.Node, error) {
	if num < 1 || num >= len(u.table) {
		return nil, u.malformed("unknown marker %d", num)
	}
	if seen[num] {
		return nil, u.malformed("duplicate marker %d", num)
	}
	return u.table[num], nil
}

func (u *Unit) malformed(format string, args ...any) error {
	return &MalformedError{UnitID: u.ID, Reason: fmt.Sprintf(format, args...)}
}

func appendText(parent *doctree.Node, s string) {
	if s == "" {
		return
	}
	if k := len(parent.Children); k > 0 && parent.Children[k-1].Kind == doctree.KindText {
		parent.Children[k-1].Text += s
		return
	}
	parent.Children = append(parent.Children, doctree.NewText(s))
}

// tokenize splits s into text runs and markers. Anything that is not
// exactly a marker, including a stray '<', stays literal text.
func tokenize(s string) []token {
	var toks []token
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			toks = append(toks, token{kind: tokText, text: text.String()})
			text.Reset()
		}
	}
	for i := 0; i < len(s); {
		if s[i] == '<' {
			if tok, width, ok := scanMarker(s[i:]); ok {
				flush()
				toks = append(toks, tok)
				i += width
				continue
			}
		}
		text.WriteByte(s[i])
		i++
	}
	flush()
	return toks
}

// scanMarker recognizes <n>, </n>, <n/> and <n /> at the start of s.
func scanMarker(s string) (token, int, bool) {
	i := 1
	kind := tokOpen
	if i < len(s) && s[i] == '/' {
		kind = tokClose
		i++
	}
	start := i
	num := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		if i-start >= 9 {
			return token{}, 0, false
		}
		num = num*10 + int(s[i]-'0')
		i++
	}
	if i == start {
		return token{}, 0, false
	}
	if kind == tokOpen {
		j := i
		for j < len(s) && s[j] == ' ' {
			j++
		}
		if j+1 < len(s) && s[j] == '/' && s[j+1] == '>' {
			return token{kind: tokVoid, num: num}, j + 2, true
		}
	}
	if i < len(s) && s[i] == '>' {
		return token{kind: kind, num: num}, i + 1, true
	}
	return token{}, 0, false
}

// SameMarkers reports whether b carries the markers of a, in any order,
// with every pair in b properly nested. A translation that passes also
// decodes against the unit a was encoded from.
func SameMarkers(a, b string) bool {
	count := make(map[token]int)
	for _, t := range tokenize(a) {
		if t.kind != tokText {
			count[token{kind: t.kind, num: t.num}]++
		}
	}
	var open []int
	for _, t := range tokenize(b) {
		if t.kind == tokText {
			continue
		}
		k := token{kind: t.kind, num: t.num}
		if count[k] == 0 {
			return false
		}
		count[k]--
		switch t.kind {
		case tokOpen:
			open = append(open, t.num)
		case tokClose:
			if len(open) == 0 || open[len(open)-1] != t.num {
				return false
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return false
	}
	for _, n := range count {
		if n != 0 {
			return false
		}
	}
	return true
}
