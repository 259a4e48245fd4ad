// Package loopback provides a remote.Proxy that executes requests in the
// current process, against its own Resources. It exercises the full
// serialize, dispatch and deserialize round trip without a transport.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/open-cradle/cradle-sub002/remote"
	"github.com/open-cradle/cradle-sub002/resolve"
)

// DefaultName is the name the proxy registers under unless overridden.
const DefaultName = "loopback"

const (
	defaultJobRetention = 10 * time.Minute
	defaultJobCleanup   = time.Minute
)

// Config controls a Proxy.
type Config struct {
	Name string
	// JobRetention bounds how long a job ended without FinishAsync is kept.
	JobRetention time.Duration
	Logger       *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.JobRetention <= 0 {
		c.JobRetention = defaultJobRetention
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Proxy resolves serialized requests with the catalog and domains of res.
type Proxy struct {
	cfg    Config
	res    *resolve.Resources
	jobs   *gocache.Cache
	nextID atomic.Uint64
	logger *zap.Logger
}

var _ remote.Proxy = (*Proxy)(nil)

type job struct {
	mu       sync.Mutex
	status   remote.Status
	result   []byte
	err      error
	cancel   context.CancelFunc
	finished bool
}

func (j *job) snapshot() (remote.Status, []byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.result, j.err
}

// New returns a Proxy executing against res. res stands for the remote
// side and must not be the Resources of the contexts using the proxy.
func New(res *resolve.Resources, cfg Config) *Proxy {
	cfg = cfg.withDefaults()
	return &Proxy{
		cfg:    cfg,
		res:    res,
		jobs:   gocache.New(cfg.JobRetention, defaultJobCleanup),
		logger: cfg.Logger.With(zap.String("proxy", cfg.Name)),
	}
}

func (p *Proxy) Name() string { return p.cfg.Name }

func (p *Proxy) localContext(domain string) (*resolve.Context, error) {
	d, err := p.res.FindDomain(domain)
	if err != nil {
		return nil, err
	}
	return d.NewLocalContext(p.res), nil
}

// ResolveSync implements remote.Proxy.
func (p *Proxy) ResolveSync(ctx context.Context, domain, seriReq string) ([]byte, error) {
	rc, err := p.localContext(domain)
	if err != nil {
		return nil, err
	}
	return p.res.Catalog().ResolveSerialized(ctx, rc, seriReq)
}

// SubmitAsync implements remote.Proxy. The job runs detached from ctx.
func (p *Proxy) SubmitAsync(ctx context.Context, domain, seriReq string) (remote.JobID, error) {
	rc, err := p.localContext(domain)
	if err != nil {
		return 0, err
	}
	id := remote.JobID(p.nextID.Add(1))
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{status: remote.StatusCreated, cancel: cancel}
	p.jobs.Set(id.String(), j, gocache.NoExpiration)

	go func() {
		defer cancel()
		j.mu.Lock()
		if j.status == remote.StatusCreated {
			j.status = remote.StatusRunning
		}
		j.mu.Unlock()

		result, err := p.res.Catalog().ResolveSerialized(jctx, rc, seriReq)

		j.mu.Lock()
		switch {
		case jctx.Err() != nil:
			j.status = remote.StatusCancelled
		case err != nil:
			j.status = remote.StatusError
			j.err = err
		default:
			j.status = remote.StatusFinished
			j.result = result
		}
		status := j.status
		// Keep ended jobs for JobRetention unless FinishAsync removed them.
		if !j.finished {
			p.jobs.SetDefault(id.String(), j)
		}
		j.mu.Unlock()
		p.logger.Debug("async job ended", zap.Stringer("job", id), zap.Stringer("status", status))
	}()
	return id, nil
}

func (p *Proxy) find(id remote.JobID) (*job, error) {
	v, ok := p.jobs.Get(id.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrUnknownJob, id)
	}
	return v.(*job), nil
}

// Status implements remote.Proxy.
func (p *Proxy) Status(_ context.Context, id remote.JobID) (remote.Status, error) {
	j, err := p.find(id)
	if err != nil {
		return 0, err
	}
	status, _, _ := j.snapshot()
	return status, nil
}

// Response implements remote.Proxy.
func (p *Proxy) Response(_ context.Context, id remote.JobID) ([]byte, error) {
	j, err := p.find(id)
	if err != nil {
		return nil, err
	}
	status, result, jobErr := j.snapshot()
	switch status {
	case remote.StatusFinished:
		return result, nil
	case remote.StatusError:
		return nil, fmt.Errorf("%w: %v", remote.ErrJobFailed, jobErr)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", remote.ErrJobNotFinished, id, status)
	}
}

// RequestCancellation implements remote.Proxy.
func (p *Proxy) RequestCancellation(_ context.Context, id remote.JobID) error {
	j, err := p.find(id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// FinishAsync implements remote.Proxy.
func (p *Proxy) FinishAsync(_ context.Context, id remote.JobID) error {
	j, err := p.find(id)
	if err != nil {
		return err
	}
	j.cancel()
	j.mu.Lock()
	j.finished = true
	p.jobs.Delete(id.String())
	j.mu.Unlock()
	return nil
}

// Jobs reports the number of jobs not yet finished or expired.
func (p *Proxy) Jobs() int { return p.jobs.ItemCount() }
