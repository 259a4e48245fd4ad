// Package sample is a small request domain used by the tests and the CLI.
package sample

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-cradle/cradle-sub002/digest"
	"github.com/open-cradle/cradle-sub002/resolve"
)

// Operation ids.
const (
	OpMakeBlob   = "sample/make_blob"
	OpBlobLength = "sample/blob_length"
	OpSum        = "sample/sum"
	OpFail       = "sample/fail"
	OpCounted    = "sample/counted"
)

// ErrFailed is the error every Fail request resolves to.
var ErrFailed = errors.New("sample: requested failure")

// MakeBlob resolves to Size bytes counting up from Fill.
type MakeBlob struct {
	Size int  `json:"size"`
	Fill byte `json:"fill"`
}

func (MakeBlob) OperationID() string { return OpMakeBlob }

func (r MakeBlob) HashTo(h *digest.Hasher) {
	h.Update(r.Size)
	h.Update(r.Fill)
}

func (r MakeBlob) Resolve(context.Context, *resolve.Context) ([]byte, error) {
	if r.Size < 0 {
		return nil, errors.New("sample: negative blob size")
	}
	out := make([]byte, r.Size)
	for i := range out {
		out[i] = r.Fill + byte(i)
	}
	return out, nil
}

// BlobLength resolves its blob as a subrequest and returns the length.
type BlobLength struct {
	Blob MakeBlob `json:"blob"`
}

func (BlobLength) OperationID() string { return OpBlobLength }

func (r BlobLength) HashTo(h *digest.Hasher) {
	h.Update(r.Blob)
}

func (r BlobLength) Resolve(ctx context.Context, rc *resolve.Context) (int, error) {
	blob, err := resolve.Resolve[[]byte](ctx, rc.Local(), r.Blob)
	if err != nil {
		return 0, err
	}
	return len(blob), nil
}

// Sum adds Values, after waiting DelayMillis.
type Sum struct {
	Values      []int64 `json:"values"`
	DelayMillis int     `json:"delay_millis,omitempty"`
}

func (Sum) OperationID() string { return OpSum }

func (r Sum) HashTo(h *digest.Hasher) {
	h.Update(r.Values)
	h.Update(r.DelayMillis)
}

func (r Sum) Resolve(ctx context.Context, _ *resolve.Context) (int64, error) {
	if r.DelayMillis > 0 {
		timer := time.NewTimer(time.Duration(r.DelayMillis) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, context.Cause(ctx)
		case <-timer.C:
		}
	}
	var total int64
	for _, v := range r.Values {
		total += v
	}
	return total, nil
}

// Fail always resolves to an error wrapping ErrFailed.
type Fail struct {
	Message string `json:"message"`
}

func (Fail) OperationID() string { return OpFail }

func (r Fail) HashTo(h *digest.Hasher) {
	h.Update(r.Message)
}

func (r Fail) Resolve(context.Context, *resolve.Context) (string, error) {
	return "", errors.Join(ErrFailed, errors.New(r.Message))
}

// Counted returns Value and counts its executions under Counter. Level
// restricts the caching level it resolves at. Gate, when set, names a gate
// the execution blocks on until OpenGate is called.
type Counted struct {
	Counter string               `json:"counter"`
	Value   int64                `json:"value"`
	Level   resolve.CachingLevel `json:"level,omitempty"`
	Gate    string               `json:"gate,omitempty"`
}

func (Counted) OperationID() string { return OpCounted }

func (r Counted) HashTo(h *digest.Hasher) {
	h.Update(r.Counter)
	h.Update(r.Value)
	h.Update(r.Gate)
}

func (r Counted) CachingLevel() resolve.CachingLevel { return r.Level }

func (r Counted) Resolve(ctx context.Context, _ *resolve.Context) (int64, error) {
	counter(r.Counter).Add(1)
	if r.Gate != "" {
		select {
		case <-ctx.Done():
			return 0, context.Cause(ctx)
		case <-gate(r.Gate).open:
		}
	}
	return r.Value, nil
}

var (
	counters sync.Map // string -> *atomic.Int64
	gates    sync.Map // string -> *gateState
)

func counter(name string) *atomic.Int64 {
	v, _ := counters.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Executions reports how often Counted requests named name have run.
func Executions(name string) int64 { return counter(name).Load() }

type gateState struct {
	open chan struct{}
	once sync.Once
}

func gate(name string) *gateState {
	v, _ := gates.LoadOrStore(name, &gateState{open: make(chan struct{})})
	return v.(*gateState)
}

// OpenGate releases every Counted execution blocked on name. It is safe to
// call more than once and from several goroutines.
func OpenGate(name string) {
	g := gate(name)
	g.once.Do(func() { close(g.open) })
}
