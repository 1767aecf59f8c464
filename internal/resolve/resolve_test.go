package resolve

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestSplitSearchPath(t *testing.T) {
	sep := string(filepath.ListSeparator)
	got := SplitSearchPath("a" + sep + sep + "b")
	if want := (SearchPath{"a", ".", "b"}); !slices.Equal(got, want) {
		t.Fatalf("SplitSearchPath = %q, want %q", got, want)
	}
	if got := SplitSearchPath(""); len(got) != 0 {
		t.Fatalf("SplitSearchPath(\"\") = %q, want empty", got)
	}
}

func TestSearchPathString(t *testing.T) {
	sep := string(filepath.ListSeparator)
	p := SearchPath{"a", "b", "c"}
	if got, want := p.String(), "a"+sep+"b"+sep+"c"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestWithoutRemovesEveryOccurrence(t *testing.T) {
	base := t.TempDir()
	shims := filepath.Join(base, "shims")
	usr := filepath.Join(base, "usr")

	p := SearchPath{shims, usr, shims + string(filepath.Separator), filepath.Join(shims, "x", ".."), usr}
	got := p.Without(shims)

	if want := (SearchPath{usr, usr}); !slices.Equal(got, want) {
		t.Fatalf("Without = %q, want %q", got, want)
	}
	if len(p) != 5 {
		t.Fatalf("Without modified its receiver: %q", p)
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Name: "tool", Path: SearchPath{"a"}}
	if err.Error() == "" {
		t.Fatal("empty error message")
	}
}
