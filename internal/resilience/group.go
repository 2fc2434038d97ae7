package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or sits
// behind an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// GroupConfig configures the per-entry breaker created for each provider in
// a [Group].
type GroupConfig struct {
	Breaker BreakerConfig
}

// entry pairs one provider value with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails, or its breaker is open, the next
// healthy fallback is tried in registration order.
//
// Register all entries before first use; Group is then safe for concurrent
// use.
type Group[T any] struct {
	entries []entry[T]
	cfg     GroupConfig
}

// NewGroup creates a [Group] with primary as the first entry.
func NewGroup[T any](primary T, primaryName string, cfg GroupConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback provider. Fallbacks are tried in the order added,
// after the primary.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Each calls fn for every registered provider, joining the errors. Used for
// teardown, where every entry must be visited regardless of failures.
func (g *Group[T]) Each(fn func(name string, value T) error) error {
	var errs []error
	for i := range g.entries {
		if err := fn(g.entries[i].name, g.entries[i].value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.entries[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Do tries fn against each entry in order until one succeeds. Entries with
// an open breaker are skipped. A cancellation error stops the chain at once:
// the caller abandoned the turn, so retrying elsewhere is pointless. Returns
// [ErrAllFailed] wrapping the last error when every entry fails.
//
// Do is a package-level function because Go does not support method-level
// type parameters.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var inner error
			result, inner = fn(e.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		if isCancellation(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
