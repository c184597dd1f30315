package doctree

import (
	"strings"
	"testing"
)

func TestKindClass(t *testing.T) {
	tests := []struct {
		kind Kind
		want Class
	}{
		{KindText, ClassText},
		{KindDocument, ClassContainer},
		{KindListItem, ClassContainer},
		{KindParagraph, ClassUnitRoot},
		{KindCell, ClassUnitRoot},
		{KindCodeBlock, ClassOpaqueBlock},
		{KindLink, ClassInline},
		{KindRun, ClassInline},
		{KindCodeSpan, ClassVoid},
		{KindOpaque, ClassVoid},
		{KindInvalid, ClassInvalid},
		{Kind(999), ClassInvalid},
	}
	for _, tt := range tests {
		if got := tt.kind.Class(); got != tt.want {
			t.Errorf("%s.Class() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	for k := KindText; k < kindCount; k++ {
		if s := k.String(); s == "" || strings.HasPrefix(s, "Kind(") {
			t.Errorf("kind %d has no name", int(k))
		}
	}
	if got := Kind(999).String(); got != "Kind(999)" {
		t.Errorf("unknown kind string = %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := New(KindParagraph,
		NewText("a "),
		New(KindLink, NewText("b")).SetAttr(AttrHref, "http://x"),
	)
	c := orig.Clone()
	if !Equal(orig, c) {
		t.Fatalf("clone differs:\n%s\n%s", Dump(orig), Dump(c))
	}
	c.Children[1].Attrs[AttrHref] = "http://y"
	c.Children[1].Children[0].Text = "z"
	if orig.Children[1].Attr(AttrHref) != "http://x" || orig.Children[1].Children[0].Text != "b" {
		t.Error("mutating the clone changed the original")
	}
}

func TestHasText(t *testing.T) {
	tests := []struct {
		name string
		n    *Node
		want bool
	}{
		{"empty", New(KindParagraph), false},
		{"blank", New(KindParagraph, NewText("  \n")), false},
		{"image only", New(KindTableCell, New(KindImage).SetAttr(AttrAlt, "logo")), false},
		{"nested", New(KindParagraph, New(KindStrong, NewText("x"))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.n.HasText(); got != tt.want {
				t.Errorf("HasText() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	n := New(KindParagraph,
		NewText("a"), NewText(""), NewText("b"),
		New(KindEmphasis, NewText("c"), NewText("d")),
		NewText("e"),
	)
	Normalize(n)
	want := New(KindParagraph,
		NewText("ab"),
		New(KindEmphasis, NewText("cd")),
		NewText("e"),
	)
	if !Equal(n, want) {
		t.Errorf("got\n%swant\n%s", Dump(n), Dump(want))
	}
}

func TestPlainTextAndWalk(t *testing.T) {
	n := New(KindParagraph, NewText("Hello "), New(KindStrong, NewText("world")))
	if got := n.PlainText(); got != "Hello world" {
		t.Errorf("PlainText() = %q", got)
	}
	visited := 0
	Walk(n, func(x *Node) bool {
		visited++
		return x.Kind != KindStrong
	})
	if visited != 3 {
		t.Errorf("visited %d nodes, want 3", visited)
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	n := New(KindLink, NewText("x")).SetAttr(AttrTitle, "t").SetAttr(AttrHref, "h")
	want := "Link href=\"h\" title=\"t\"\n  Text \"x\"\n"
	if got := Dump(n); got != want {
		t.Errorf("Dump() = %q, want %q", got, want)
	}
}

func TestEqualIgnoresLocation(t *testing.T) {
	a := New(KindParagraph, NewText("x")).SetAttr(AttrLocation, "line 1")
	b := New(KindParagraph, NewText("x")).SetAttr(AttrLocation, "line 9")
	if !Equal(a, b) {
		t.Error("locations must not affect equality")
	}
	b.SetAttr(AttrLevel, "2")
	if Equal(a, b) || Equal(b, a) {
		t.Error("other attributes must affect equality")
	}
}
