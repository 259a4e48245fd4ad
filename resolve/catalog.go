package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownOperation is returned for an operation id with no catalog entry,
	// or when serializing a request that has no operation id.
	ErrUnknownOperation = errors.New("resolve: unknown operation")
	// ErrDuplicateOperation is returned when registering an operation id twice.
	ErrDuplicateOperation = errors.New("resolve: operation already registered")
)

// Envelope is the serialized form of a request.
type Envelope struct {
	Op  string          `json:"op"`
	Req json.RawMessage `json:"req"`
}

// SerializableRequest is a request that can be rebuilt from its envelope.
type SerializableRequest[V any] interface {
	Request[V]
	Operation
}

type catalogEntry func(ctx context.Context, rc *Context, raw json.RawMessage) ([]byte, error)

// Catalog maps operation ids to the resolvers of the matching request types.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]catalogEntry)}
}

// Register adds request type R, resolving to V, under its operation id.
// R's OperationID must not depend on field values.
func Register[V any, R SerializableRequest[V]](c *Catalog) error {
	var zero R
	op := zero.OperationID()
	entry := func(ctx context.Context, rc *Context, raw json.RawMessage) ([]byte, error) {
		var req R
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode %s request: %w", op, err)
		}
		v, err := Resolve[V](ctx, rc, req)
		if err != nil {
			return nil, err
		}
		return codecFor[V](req).Encode(v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[op]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op)
	}
	c.entries[op] = entry
	return nil
}

// Operations lists the registered operation ids in sorted order.
func (c *Catalog) Operations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for op := range c.entries {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// ResolveSerialized decodes seriReq, resolves it in rc and returns the
// encoded value.
func (c *Catalog) ResolveSerialized(ctx context.Context, rc *Context, seriReq string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(seriReq), &env); err != nil {
		return nil, fmt.Errorf("decode request envelope: %w", err)
	}
	c.mu.RLock()
	entry, ok := c.entries[env.Op]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, env.Op)
	}
	return entry(ctx, rc, env.Req)
}

// SerializeRequest wraps req in an Envelope.
func SerializeRequest(req any) (string, error) {
	op, ok := req.(Operation)
	if !ok {
		return "", fmt.Errorf("%w: %T has no operation id", ErrUnknownOperation, req)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", op.OperationID(), err)
	}
	out, err := json.Marshal(Envelope{Op: op.OperationID(), Req: body})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
