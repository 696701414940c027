package cache

import (
	"strings"
	"testing"
)

// Fuzz basic Put/Get/Add/Remove semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
// Key/value lengths are capped to keep memory bounded during fuzzing.
func FuzzMap_PutGetRemove(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("b", "2")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		c := NewMap(MapOptions[string, string]{})
		t.Cleanup(func() { _ = c.Close() })

		if _, _, err := c.Put(k, v); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, ok := c.Get(k)
		if !ok || got != v {
			t.Fatalf("after Put/Get: want %q, got %q ok=%v", v, got, ok)
		}

		// Add on a present key must not overwrite.
		if ok, _ := c.Add(k, "other"); ok {
			t.Fatalf("Add duplicate returned true")
		}
		if got2, ok := c.Get(k); !ok || got2 != v {
			t.Fatalf("after duplicate Add: want %q, got %q ok=%v", v, got2, ok)
		}

		r, _ := c.Ref(k)
		if !c.Remove(k) {
			t.Fatalf("Remove must return true")
		}
		if !r.Removed() {
			t.Fatalf("reference must be REMOVED after Remove")
		}
		if _, ok := c.Get(k); ok {
			t.Fatalf("key must be absent after Remove")
		}

		if ok, _ := c.Add(k, v); !ok {
			t.Fatalf("Add after Remove must return true")
		}
	})
}
