// Package resolve dispatches requests through the memory cache, the
// secondary store and local or remote computation.
package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/open-cradle/cradle-sub002/cachekey"
)

var (
	// ErrAbandoned is the cancellation cause of a computation whose waiters
	// all went away.
	ErrAbandoned = errors.New("resolve: computation abandoned")
	// ErrJobCancelled is returned when a remote job ends cancelled.
	ErrJobCancelled = errors.New("resolve: remote job cancelled")
)

// CachingLevel selects the cache tiers a resolution goes through.
// The zero value uses every tier.
type CachingLevel int

const (
	CachingFull CachingLevel = iota
	CachingMemory
	CachingNone
)

func (l CachingLevel) String() string {
	switch l {
	case CachingFull:
		return "full"
	case CachingMemory:
		return "memory"
	case CachingNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseCachingLevel parses the String form of a level.
func ParseCachingLevel(s string) (CachingLevel, error) {
	switch s {
	case "", "full":
		return CachingFull, nil
	case "memory":
		return CachingMemory, nil
	case "none":
		return CachingNone, nil
	}
	return 0, errors.New("resolve: unknown caching level " + s)
}

// Request is a value that can be resolved to a V. Its HashTo must cover
// everything Resolve depends on.
type Request[V any] interface {
	cachekey.Captured
	Resolve(ctx context.Context, rc *Context) (V, error)
}

// Operation is implemented by requests that can cross a process boundary.
// The id selects the catalog entry that decodes the request.
type Operation interface {
	OperationID() string
}

// LevelRequest lets a request restrict the caching level it is resolved at.
type LevelRequest interface {
	CachingLevel() CachingLevel
}

// Sizer reports the memory footprint of a value, in bytes.
type Sizer interface {
	Size() int64
}

const defaultPollInterval = 100 * time.Millisecond

// Context carries what a resolution needs besides the request itself.
type Context struct {
	Resources *Resources

	// Level is the default caching level. Requests may only restrict it.
	Level CachingLevel

	// Remote names the proxy that computes requests. Empty means local.
	Remote string
	// Domain is the domain the remote side resolves requests in.
	Domain string
	// Async uses the proxy's job API instead of ResolveSync.
	Async bool
	// PollInterval is the job status period in async mode.
	PollInterval time.Duration
}

// NewLocalContext returns a context that computes requests in process.
func NewLocalContext(res *Resources) *Context {
	return &Context{Resources: res}
}

// NewRemoteContext returns a context that computes requests through proxy.
func NewRemoteContext(res *Resources, proxy, domain string) *Context {
	return &Context{Resources: res, Remote: proxy, Domain: domain}
}

// IsRemote reports whether computation goes through a proxy.
func (rc *Context) IsRemote() bool { return rc.Remote != "" }

// Local returns a copy of rc that computes in process.
func (rc *Context) Local() *Context {
	cp := *rc
	cp.Remote = ""
	cp.Async = false
	return &cp
}

func (rc *Context) pollInterval() time.Duration {
	if rc.PollInterval > 0 {
		return rc.PollInterval
	}
	return defaultPollInterval
}

func (rc *Context) levelFor(req any) CachingLevel {
	level := rc.Level
	if lr, ok := req.(LevelRequest); ok {
		level = max(level, lr.CachingLevel())
	}
	return level
}
