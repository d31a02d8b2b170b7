// Package ratelimit enforces a minimum interval between successive calls to
// the same upstream provider.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// gate serializes the callers of one provider. A caller holds sem for the
// whole wait, so grants for a provider happen one at a time and each is
// measured from the moment the previous one was actually granted.
type gate struct {
	sem chan struct{}

	mu      sync.Mutex
	last    time.Time
	granted bool
}

// Limiter keeps one gate per provider. The first call for a provider passes
// immediately; each later call is granted no earlier than minDelay after the
// previous grant. Callers for different providers never block each other.
type Limiter struct {
	mu       sync.Mutex
	gates    map[string]*gate
	minDelay time.Duration
}

// New creates a Limiter. A non-positive minDelay disables limiting.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{
		gates:    make(map[string]*gate),
		minDelay: minDelay,
	}
}

// MinDelay returns the configured minimum interval between calls.
func (l *Limiter) MinDelay() time.Duration {
	return l.minDelay
}

// Wait blocks until a call to provider is permitted, or returns an error if
// ctx ends first. A wait abandoned this way does not count as a grant.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	if l.minDelay <= 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g := l.get(provider)

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	g.mu.Lock()
	last, granted := g.last, g.granted
	g.mu.Unlock()

	if granted {
		for {
			wait := l.minDelay - time.Since(last)
			if wait <= 0 {
				break
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	g.mu.Lock()
	g.last = time.Now()
	g.granted = true
	g.mu.Unlock()
	return nil
}

// CanMakeRequest reports whether a call to provider would pass without
// waiting. It does not consume a slot.
func (l *Limiter) CanMakeRequest(provider string) bool {
	if l.minDelay <= 0 {
		return true
	}

	l.mu.Lock()
	g, ok := l.gates[provider]
	l.mu.Unlock()
	if !ok {
		return true
	}

	// Another caller is already queued or being granted.
	if len(g.sem) > 0 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.granted || time.Since(g.last) >= l.minDelay
}

func (l *Limiter) get(provider string) *gate {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.gates[provider]; ok {
		return g
	}

	g := &gate{sem: make(chan struct{}, 1)}
	l.gates[provider] = g
	return g
}
