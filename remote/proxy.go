// Package remote defines the proxies through which requests are resolved
// outside the calling process, and the registry that names them.
package remote

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrDuplicateProxy is returned when registering a proxy name twice.
	ErrDuplicateProxy = errors.New("remote: proxy already registered")
	// ErrUnknownProxy is returned when looking up an unregistered proxy name.
	ErrUnknownProxy = errors.New("remote: unknown proxy")
	// ErrUnknownJob is returned for a job id the proxy never issued or has
	// already finished.
	ErrUnknownJob = errors.New("remote: unknown job")
	// ErrJobFailed wraps the error message of a job in StatusError.
	ErrJobFailed = errors.New("remote: job failed")
	// ErrJobNotFinished is returned when asking for the response of a
	// job that has not reached StatusFinished.
	ErrJobNotFinished = errors.New("remote: job not finished")
)

// JobID identifies an asynchronous job on a proxy.
type JobID uint64

func (id JobID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Status is the lifecycle state of an asynchronous job.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCancelled
	StatusFinished
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFinished:
		return "FINISHED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Final reports whether the job will not change state again.
func (s Status) Final() bool {
	return s == StatusCancelled || s == StatusFinished || s == StatusError
}

// Proxy forwards serialized requests to an executor. Requests arrive as
// serialized envelopes; responses are serialized values.
type Proxy interface {
	Name() string

	// ResolveSync resolves seriReq in domain and returns the serialized value.
	ResolveSync(ctx context.Context, domain, seriReq string) ([]byte, error)

	// SubmitAsync starts resolving seriReq in domain and returns a job id.
	SubmitAsync(ctx context.Context, domain, seriReq string) (JobID, error)
	// Status reports the job state.
	Status(ctx context.Context, id JobID) (Status, error)
	// Response returns the serialized value of a finished job.
	Response(ctx context.Context, id JobID) ([]byte, error)
	// RequestCancellation asks the executor to stop the job. It does not wait.
	RequestCancellation(ctx context.Context, id JobID) error
	// FinishAsync releases the job. The id is unknown afterwards.
	FinishAsync(ctx context.Context, id JobID) error
}
