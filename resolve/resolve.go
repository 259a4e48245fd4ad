package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/cachekey"
	"github.com/open-cradle/cradle-sub002/memcache"
	"github.com/open-cradle/cradle-sub002/remote"
	"github.com/open-cradle/cradle-sub002/secondary"
)

// Resolve returns the value of req. Concurrent calls for requests with the
// same digest share one computation. The computation is detached from ctx:
// cancelling ctx returns early, and the computation is only stopped once no
// caller waits for it any more.
func Resolve[V any](ctx context.Context, rc *Context, req Request[V]) (V, error) {
	level := rc.levelFor(req)
	if level == CachingNone {
		return compute[V](ctx, rc, req, "")
	}
	key := cachekey.New(req)
	for {
		v, err := resolveCached[V](ctx, rc, req, key, level)
		if errors.Is(err, ErrAbandoned) && ctx.Err() == nil {
			// Another caller's cancellation stopped the shared computation.
			continue
		}
		return v, err
	}
}

func resolveCached[V any](ctx context.Context, rc *Context, req Request[V], key cachekey.Key, level CachingLevel) (V, error) {
	var zero V
	res := rc.Resources
	start := time.Now()

	var lock memcache.Lock
	created, err := res.memory.Acquire(key, &lock)
	if err != nil {
		return zero, err
	}
	defer lock.Release()
	rec := lock.Record()
	if created {
		startProducer[V](ctx, rc, req, key, rec, level)
	}

	value, err := rec.Wait(ctx)
	if err != nil {
		return zero, err
	}
	v, ok := value.(V)
	if !ok {
		return zero, fmt.Errorf("resolve: cached value for %s has type %T", key.Digest(), value)
	}
	if !created {
		res.observe(ctx, StageMemory, key.Digest(), true, nil, start)
	}
	return v, nil
}

// startProducer runs the computation for a record this caller created. The
// computation is cancelled with ErrAbandoned when the last pin is released
// before the record is READY.
func startProducer[V any](ctx context.Context, rc *Context, req Request[V], key cachekey.Key, rec *memcache.Record, level CachingLevel) {
	res := rc.Resources
	pctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	res.memory.SetAbandon(rec, func() { cancel(ErrAbandoned) })
	res.goBackground(func() {
		defer cancel(nil)
		v, size, err := produce[V](pctx, rc, req, key, level)
		if err != nil {
			if errors.Is(context.Cause(pctx), ErrAbandoned) {
				err = ErrAbandoned
			}
			res.memory.Fail(rec, err)
			return
		}
		if err := res.memory.SetReady(rec, v, size); err != nil {
			res.logger.Error("set ready failed", zap.String("key", key.Digest()), zap.Error(err))
		}
	})
}

func produce[V any](ctx context.Context, rc *Context, req Request[V], key cachekey.Key, level CachingLevel) (V, int64, error) {
	var zero V
	res := rc.Resources
	d := key.Digest()
	codec := codecFor[V](req)
	res.observe(ctx, StageMemory, d, false, nil, time.Now())

	useSecondary := level == CachingFull && res.store != nil
	if useSecondary {
		start := time.Now()
		body, ok, err := res.store.Get(ctx, d)
		switch {
		case err != nil && errors.Is(err, secondary.ErrCorrupt):
			res.observe(ctx, StageSecondary, d, false, err, start)
			return zero, 0, err
		case err != nil:
			res.logger.Warn("secondary get failed", zap.String("key", d), zap.Error(err))
		case ok:
			v, err := codec.Decode(body)
			if err != nil {
				err = fmt.Errorf("%w: decode %s: %v", secondary.ErrCorrupt, d, err)
				res.observe(ctx, StageSecondary, d, true, err, start)
				return zero, 0, err
			}
			res.observe(ctx, StageSecondary, d, true, nil, start)
			return v, sizeOf(v, body), nil
		}
		res.observe(ctx, StageSecondary, d, false, nil, start)
	}

	v, err := compute[V](ctx, rc, req, d)
	if err != nil {
		return zero, 0, err
	}
	if !useSecondary {
		return v, sizeOf(v, nil), nil
	}
	encoded, err := codec.Encode(v)
	if err != nil {
		res.logger.Warn("encode value failed", zap.String("key", d), zap.Error(err))
		return v, sizeOf(v, nil), nil
	}
	res.goBackground(func() {
		if err := res.store.Set(context.Background(), d, encoded); err != nil {
			res.logger.Warn("secondary set failed", zap.String("key", d), zap.Error(err))
		}
	})
	return v, sizeOf(v, encoded), nil
}

func compute[V any](ctx context.Context, rc *Context, req Request[V], d string) (V, error) {
	start := time.Now()
	if rc.IsRemote() {
		v, err := resolveRemote[V](ctx, rc, req)
		rc.Resources.observe(ctx, StageRemote, d, false, err, start)
		return v, err
	}
	v, err := req.Resolve(ctx, rc)
	rc.Resources.observe(ctx, StageCompute, d, false, err, start)
	return v, err
}

func resolveRemote[V any](ctx context.Context, rc *Context, req Request[V]) (V, error) {
	var zero V
	seri, err := SerializeRequest(req)
	if err != nil {
		return zero, err
	}
	proxy, err := rc.Resources.proxies.Find(rc.Remote)
	if err != nil {
		return zero, err
	}
	var body []byte
	if rc.Async {
		body, err = resolveAsync(ctx, rc, proxy, seri)
	} else {
		body, err = proxy.ResolveSync(ctx, rc.Domain, seri)
	}
	if err != nil {
		return zero, err
	}
	v, err := codecFor[V](req).Decode(body)
	if err != nil {
		return zero, fmt.Errorf("decode remote response: %w", err)
	}
	return v, nil
}

// resolveAsync submits a job and polls it until it ends. The job is always
// finished, and cancelled first when ctx ends.
func resolveAsync(ctx context.Context, rc *Context, proxy remote.Proxy, seri string) ([]byte, error) {
	id, err := proxy.SubmitAsync(ctx, rc.Domain, seri)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := proxy.FinishAsync(bg, id); err != nil {
			rc.Resources.logger.Warn("finish async job failed", zap.Stringer("job", id), zap.Error(err))
		}
	}()

	ticker := time.NewTicker(rc.pollInterval())
	defer ticker.Stop()
	for {
		status, err := proxy.Status(bg, id)
		if err != nil {
			return nil, err
		}
		switch status {
		case remote.StatusFinished, remote.StatusError:
			return proxy.Response(bg, id)
		case remote.StatusCancelled:
			return nil, fmt.Errorf("%w: job %s", ErrJobCancelled, id)
		}
		select {
		case <-ctx.Done():
			if err := proxy.RequestCancellation(bg, id); err != nil {
				rc.Resources.logger.Warn("request cancellation failed", zap.Stringer("job", id), zap.Error(err))
			}
			return nil, fmt.Errorf("%w: %w", ErrJobCancelled, context.Cause(ctx))
		case <-ticker.C:
		}
	}
}
