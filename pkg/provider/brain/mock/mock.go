// Package mock provides a test double for the brain package interface.
package mock

import (
	"context"
	"sync"

	"github.com/zentrylabs/zentry/pkg/provider/brain"
)

// Provider is a mock implementation of brain.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is the reply returned by Respond. If Fn is set it takes
	// precedence. A nil Reply yields an empty Spoken reply.
	Reply brain.Reply

	// Fn, if non-nil, is invoked by Respond instead of returning Reply.
	Fn func(ctx context.Context, req brain.Request) (brain.Reply, error)

	// RespondErr, if non-nil, is returned as the error from Respond.
	RespondErr error

	// RespondCalls records every request passed to Respond.
	RespondCalls []brain.Request

	// IsClosed reports whether Close has been called.
	IsClosed bool
}

// Ensure Provider implements brain.Provider at compile time.
var _ brain.Provider = (*Provider)(nil)

// Respond records the call and returns Reply (or Fn's result), RespondErr.
func (p *Provider) Respond(ctx context.Context, req brain.Request) (brain.Reply, error) {
	p.mu.Lock()
	p.RespondCalls = append(p.RespondCalls, req)
	fn := p.Fn
	reply := p.Reply
	err := p.RespondErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if reply == nil {
		return brain.Spoken{}, nil
	}
	return reply, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IsClosed = true
	return nil
}

// Calls returns a snapshot of all recorded requests. Thread-safe.
func (p *Provider) Calls() []brain.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]brain.Request, len(p.RespondCalls))
	copy(out, p.RespondCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RespondCalls = nil
	p.IsClosed = false
}
