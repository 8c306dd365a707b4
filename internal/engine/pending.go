package engine

import "context"

// Pending is the future for one submitted command.
type Pending struct {
	id   string
	done chan struct{}

	// written once by the executor before done is closed
	result any
	err    error
	seq    uint64
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func resolvedPending(id string, result any, seq uint64, err error) *Pending {
	p := newPending(id)
	p.resolve(result, seq, err)
	return p
}

// resolve publishes the outcome. Only the first call has an effect.
func (p *Pending) resolve(result any, seq uint64, err error) {
	select {
	case <-p.done:
		return
	default:
	}
	p.result, p.seq, p.err = result, seq, err
	close(p.done)
}

// Wait blocks until the command resolves or ctx is done. Giving up on the
// wait does not withdraw the command.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
	}

	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the command has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// CommandID returns the submitted command's ID.
func (p *Pending) CommandID() string {
	return p.id
}

// Seq returns the journal sequence number of the command, or 0 if it was
// not journaled. Only meaningful after Done is closed.
func (p *Pending) Seq() uint64 {
	select {
	case <-p.done:
		return p.seq
	default:
		return 0
	}
}
