package lifo

import (
	"testing"

	"github.com/IvanBrykalov/refcache/ref"
)

// A, B, C tracked in order come out C, B, A.
func TestLIFO_StackOrder(t *testing.T) {
	t.Parallel()

	p := New[string]()
	a, b, c := ref.Strong("a"), ref.Strong("b"), ref.Strong("c")
	p.Add(a)
	p.Add(b)
	p.Add(c)

	for _, want := range []*ref.Entry[string]{c, b, a} {
		got := p.Overflow()
		if got != want {
			t.Fatalf("Overflow() = %v, want %v", got, want)
		}
		p.Remove(got)
	}
	if p.Overflow() != nil {
		t.Fatalf("empty policy must return nil")
	}
}

func TestLIFO_OverflowN(t *testing.T) {
	t.Parallel()

	p := New[int]()
	rs := []*ref.Entry[int]{ref.Strong(1), ref.Strong(2), ref.Strong(3)}
	for _, r := range rs {
		p.Add(r)
	}
	got := p.OverflowN(2)
	if len(got) != 2 || got[0] != rs[2] || got[1] != rs[1] {
		t.Fatalf("OverflowN(2) = %v", got)
	}
	if p.Len() != 3 {
		t.Fatalf("selecting victims must not untrack them")
	}
	if n := len(p.OverflowN(10)); n != 3 {
		t.Fatalf("OverflowN beyond Len = %d, want 3", n)
	}
}

func TestLIFO_ExternalRemove(t *testing.T) {
	t.Parallel()

	p := New[int]()
	a, b := ref.Strong(1), ref.Strong(2)
	p.Add(a)
	p.Add(b)
	b.Remove(nil)
	if p.Overflow() != a {
		t.Fatalf("removed reference must be untracked")
	}
	p.Reset()
	if p.Len() != 0 || p.Overflow() != nil {
		t.Fatalf("Reset must clear tracking")
	}
}
