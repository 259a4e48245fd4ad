package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/config"
	"github.com/open-cradle/cradle-sub002/remote"
	"github.com/open-cradle/cradle-sub002/remote/loopback"
	"github.com/open-cradle/cradle-sub002/resolve"
	"github.com/open-cradle/cradle-sub002/sample"
	"github.com/open-cradle/cradle-sub002/secondary"
)

// stack is the resolution setup a command runs against. server is set when
// the configured proxy is the in-process loopback.
type stack struct {
	res    *resolve.Resources
	server *resolve.Resources
	rc     *resolve.Context
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (secondary.Storage, error) {
	store, err := secondary.New(ctx, cfg.SecondaryCache.StorageConfig(logger.Named("secondary")))
	if err != nil {
		return nil, fmt.Errorf("failed to open secondary cache: %w", err)
	}
	return store, nil
}

func newStack(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*stack, error) {
	st := new(stack)
	proxies := remote.NewRegistry()
	if cfg.Remote.Proxy == loopback.DefaultName {
		st.server = resolve.NewResources(
			resolve.WithLogger(logger.Named("loopback")),
			resolve.WithMemoryConfig(cfg.MemoryCache.MemcacheConfig()),
		)
		if err := st.server.RegisterDomain(sample.Domain{}); err != nil {
			return nil, err
		}
		if err := proxies.Register(loopback.New(st.server, loopback.Config{Logger: logger})); err != nil {
			return nil, err
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []resolve.Option{
		resolve.WithLogger(logger),
		resolve.WithMemoryConfig(cfg.MemoryCache.MemcacheConfig()),
		resolve.WithSecondary(store),
		resolve.WithProxies(proxies),
	}
	if reg != nil {
		obs, err := resolve.NewMetricsObserver(reg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, resolve.WithObserver(obs))
	}
	st.res = resolve.NewResources(opts...)
	if err := st.res.RegisterDomain(sample.Domain{}); err != nil {
		_ = st.Close()
		return nil, err
	}
	st.rc, err = cfg.Remote.ContextFor(st.res)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Close waits for pending secondary writes and releases the stores.
func (s *stack) Close() error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Close())
	}
	errs = append(errs, s.res.Close())
	return errors.Join(errs...)
}
