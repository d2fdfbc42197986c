package store

import (
	"context"

	"leadflow/internal/domain"
)

// Pending is the handle returned by a mutation after the local apply. It
// resolves once the gateway answered, or immediately when an earlier
// mutation on the same lead failed.
type Pending struct {
	Op     string
	LeadID string
	// Lead is the optimistic image installed by the mutation.
	Lead domain.Lead

	done chan struct{}
	err  error
}

func newPending(op, id string, l domain.Lead) *Pending {
	return &Pending{Op: op, LeadID: id, Lead: l, done: make(chan struct{})}
}

// Done is closed when the gateway call resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the failure once resolved; it is nil while in flight.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the mutation resolved or ctx ends. A ctx error does not
// cancel the gateway call.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}
