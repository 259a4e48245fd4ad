package digest

import (
	"strings"
	"testing"
	"time"
)

type point struct {
	X, Y int
}

type tagged struct {
	Name    string
	Ignored string `hash:"-"`
	hidden  int
}

type custom struct {
	parts []string
}

func (c custom) HashTo(h *Hasher) {
	for _, p := range c.parts {
		h.Update(p)
	}
}

func TestHasherIsDeterministic(t *testing.T) {
	a := Of("op", 1, []int{1, 2, 3}, map[string]int{"a": 1, "b": 2}, point{1, 2})
	b := Of("op", 1, []int{1, 2, 3}, map[string]int{"b": 2, "a": 1}, point{1, 2})
	if a != b {
		t.Fatalf("expected equal digests, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if strings.ToLower(a) != a {
		t.Fatalf("expected lowercase digest, got %q", a)
	}
}

func TestHasherSeparatesAdjacentValues(t *testing.T) {
	cases := [][2][]any{
		{{"ab", "c"}, {"a", "bc"}},
		{{[]int{1, 2}, []int{3}}, {[]int{1}, []int{2, 3}}},
		{{1, 2}, {2, 1}},
		{{int64(1)}, {uint64(1)}},
		{{"1"}, {1}},
		{{[]byte("x")}, {"x"}},
		{{nil}, {""}},
		{{point{1, 2}}, {point{2, 1}}},
		{{1.0}, {1}},
	}
	for i, c := range cases {
		if Of(c[0]...) == Of(c[1]...) {
			t.Fatalf("case %d: expected different digests for %v and %v", i, c[0], c[1])
		}
	}
}

func TestHasherFinishIsIdempotent(t *testing.T) {
	h := New()
	h.Update("value")
	h.Finish()
	first := h.String()
	h.Finish()
	if h.String() != first {
		t.Fatalf("expected stable digest after repeated finish")
	}
}

func TestHasherStringFinishesImplicitly(t *testing.T) {
	h := New()
	h.Update("value")
	got := h.String()
	if got != Of("value") {
		t.Fatalf("unexpected digest %q", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on update after finish")
		}
	}()
	h.Update("more")
}

func TestHasherSkipsIgnoredAndUnexportedFields(t *testing.T) {
	a := Of(tagged{Name: "n", Ignored: "x", hidden: 1})
	b := Of(tagged{Name: "n", Ignored: "y", hidden: 2})
	if a != b {
		t.Fatalf("expected ignored fields to be skipped")
	}
	if a == Of(tagged{Name: "m"}) {
		t.Fatalf("expected exported field to affect digest")
	}
}

func TestHasherUsesHashable(t *testing.T) {
	a := Of(custom{parts: []string{"a", "b"}})
	b := Of(custom{parts: []string{"a", "b"}})
	c := Of(custom{parts: []string{"b", "a"}})
	if a != b {
		t.Fatalf("expected equal digests for equal hashables")
	}
	if a == c {
		t.Fatalf("expected order to matter for hashables")
	}
}

func TestHasherUsesBinaryMarshaler(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if Of(ts) != Of(ts) {
		t.Fatalf("expected stable digest for time values")
	}
	if Of(ts) == Of(ts.Add(time.Second)) {
		t.Fatalf("expected different digests for different times")
	}
}

func TestHasherPointersHashTheirTarget(t *testing.T) {
	p := &point{3, 4}
	if Of(p) != Of(point{3, 4}) {
		t.Fatalf("expected pointer to hash like its target")
	}
	var nilPoint *point
	if Of(nilPoint) != Of(nil) {
		t.Fatalf("expected nil pointer to hash like nil")
	}
}

type otherCustom struct {
	parts []string
}

func (c otherCustom) HashTo(h *Hasher) {
	for _, p := range c.parts {
		h.Update(p)
	}
}

type named struct {
	N int
}

func (named) OperationID() string { return "test/named" }

func (n named) HashTo(h *Hasher) { h.Update(n.N) }

type renamed struct {
	N int
}

func (renamed) OperationID() string { return "test/named" }

func (n renamed) HashTo(h *Hasher) { h.Update(n.N) }

type pointerHashable struct {
	N int
}

func (p *pointerHashable) HashTo(h *Hasher) { h.Update(p.N) }

func TestHasherIncludesHashableIdentity(t *testing.T) {
	parts := []string{"a", "b"}
	if Of(custom{parts: parts}) == Of(otherCustom{parts: parts}) {
		t.Fatalf("expected types with identical HashTo output to differ")
	}
	if Of(named{N: 1}) != Of(renamed{N: 1}) {
		t.Fatalf("expected one operation id to give one identity")
	}
	if Of(named{N: 1}) == Of(named{N: 2}) {
		t.Fatalf("expected parts to matter")
	}
	if Of([]any{custom{parts: parts}}) == Of([]any{otherCustom{parts: parts}}) {
		t.Fatalf("expected nested hashables to carry their identity")
	}
}

func TestHasherPointerReceiverHashable(t *testing.T) {
	if Of(pointerHashable{N: 3}) != Of(&pointerHashable{N: 3}) {
		t.Fatalf("expected value and pointer to hash alike")
	}
	if Of(pointerHashable{N: 3}) == Of(point{X: 3}) {
		t.Fatalf("expected pointer-receiver HashTo to be used for values")
	}
	var nilHashable *pointerHashable
	if Of(nilHashable) != Of(nil) {
		t.Fatalf("expected nil hashable to hash like nil")
	}
}
