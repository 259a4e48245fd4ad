package cachekey

import (
	"sort"
	"sync"
	"testing"

	"github.com/open-cradle/cradle-sub002/digest"
)

type addRequest struct {
	A, B int
}

func (r addRequest) HashTo(h *digest.Hasher) {
	h.Update("add")
	h.Update(r.A)
	h.Update(r.B)
}

type addRequestPtr struct {
	args []int
}

func (r *addRequestPtr) HashTo(h *digest.Hasher) {
	h.Update("add")
	for _, a := range r.args {
		h.Update(a)
	}
}

type mulRequest struct {
	A, B int
}

func (r mulRequest) HashTo(h *digest.Hasher) {
	h.Update("add")
	h.Update(r.A)
	h.Update(r.B)
}

type versionedAdd struct {
	A, B int
}

func (versionedAdd) OperationID() string { return "test/add@1" }

func (r versionedAdd) HashTo(h *digest.Hasher) {
	h.Update(r.A)
	h.Update(r.B)
}

type versionedAddV2 struct {
	A, B int64
}

func (versionedAddV2) OperationID() string { return "test/add@1" }

func (r versionedAddV2) HashTo(h *digest.Hasher) {
	h.Update(int(r.A))
	h.Update(int(r.B))
}

func TestKeyEqualityUsesDigestOnly(t *testing.T) {
	a := New(addRequest{A: 1, B: 2})
	b := New(&addRequest{A: 1, B: 2})
	if !a.Equal(b) {
		t.Fatalf("expected equal keys for equal content, got %s and %s", a, b)
	}
	if a.Compare(b) != 0 {
		t.Fatalf("expected compare=0")
	}
	c := New(addRequest{A: 2, B: 1})
	if a.Equal(c) {
		t.Fatalf("expected argument order to matter")
	}
}

func TestKeyIncludesRequestType(t *testing.T) {
	if New(addRequest{A: 1, B: 2}).Equal(New(mulRequest{A: 1, B: 2})) {
		t.Fatalf("expected types with identical HashTo output to get different keys")
	}
	if New(addRequest{A: 1, B: 2}).Equal(New(&addRequestPtr{args: []int{1, 2}})) {
		t.Fatalf("expected different request types to get different keys")
	}
}

func TestKeyUsesOperationID(t *testing.T) {
	a := New(versionedAdd{A: 1, B: 2})
	b := New(versionedAddV2{A: 1, B: 2})
	if !a.Equal(b) {
		t.Fatalf("expected requests with one operation id and equal parts to share a key")
	}
}

func TestPointerReceiverHashableMatchesValue(t *testing.T) {
	ptr := digest.Of(&addRequestPtr{args: []int{1, 2}})
	val := digest.Of(addRequestPtr{args: []int{1, 2}})
	if ptr != val {
		t.Fatalf("expected value and pointer to hash alike, got %s and %s", val, ptr)
	}
}

func TestKeyDigestIsComputedOnceAndShared(t *testing.T) {
	k := New(addRequest{A: 1, B: 2})
	copyOfK := k
	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = copyOfK.Digest()
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		if r != k.Digest() {
			t.Fatalf("expected shared digest, got %q vs %q", r, k.Digest())
		}
	}
}

func TestIdentifierKeys(t *testing.T) {
	if !ID("blob", 3).Equal(ID("blob", 3)) {
		t.Fatalf("expected equal identifiers")
	}
	if ID("blob", 3).Equal(ID("blob", 4)) {
		t.Fatalf("expected different identifiers")
	}
	if ID("add", 1, 2).Equal(New(addRequest{A: 1, B: 2})) {
		t.Fatalf("expected identifier and request namespaces to differ")
	}
}

func TestFromDigestAndOrdering(t *testing.T) {
	k := New(addRequest{A: 5})
	restored := FromDigest(k.Digest())
	if !restored.Equal(k) {
		t.Fatalf("expected restored key to equal original")
	}
	if restored.Value() != nil {
		t.Fatalf("expected digest-only key to have no value")
	}

	keys := []Key{ID("c"), ID("a"), ID("b")}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Digest() > keys[i].Digest() {
			t.Fatalf("expected keys ordered by digest")
		}
	}
	var zero Key
	if !zero.IsZero() || zero.Digest() != "" {
		t.Fatalf("expected zero key")
	}
}
