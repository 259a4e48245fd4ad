package sample

import (
	"github.com/open-cradle/cradle-sub002/resolve"
)

// DomainName is the name Domain registers under.
const DomainName = "sample"

// Domain registers the sample operations.
type Domain struct{}

func (Domain) Name() string { return DomainName }

// Initialize implements resolve.Domain.
func (Domain) Initialize(res *resolve.Resources) error {
	c := res.Catalog()
	for _, register := range []func(*resolve.Catalog) error{
		resolve.Register[[]byte, MakeBlob],
		resolve.Register[int, BlobLength],
		resolve.Register[int64, Sum],
		resolve.Register[string, Fail],
		resolve.Register[int64, Counted],
	} {
		if err := register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewLocalContext implements resolve.Domain.
func (Domain) NewLocalContext(res *resolve.Resources) *resolve.Context {
	return resolve.NewLocalContext(res)
}
