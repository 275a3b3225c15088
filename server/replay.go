package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudx-io/sealedbid/controller"
	"github.com/cloudx-io/sealedbid/core"
)

var (
	ErrStaleInstruction    = errors.New("instruction issued_at outside the accepted window")
	ErrReplayedInstruction = errors.New("instruction already processed")
)

// ReplayGuard rejects signed instructions that are too old, too far in the future,
// or that were already accepted within the window.
type ReplayGuard struct {
	mu     sync.Mutex
	seen   map[[32]byte]time.Time
	window time.Duration
	clock  controller.Clock
}

// NewReplayGuard accepts instructions issued within ±window of clock.
func NewReplayGuard(window time.Duration, clock controller.Clock) *ReplayGuard {
	return &ReplayGuard{
		seen:   make(map[[32]byte]time.Time),
		window: window,
		clock:  clock,
	}
}

func instructionDigest(signer core.Identity, payload []byte) [32]byte {
	h := sha256.New()
	h.Write(signer[:])
	h.Write(payload)
	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

// Check records the instruction and fails if it is stale or was seen before.
// The digest covers the signer and the signed payload, so re-wrapping the same
// payload in a new envelope does not get it past the guard.
func (g *ReplayGuard) Check(signer core.Identity, payload []byte, issuedAt int64) error {
	now := g.clock.Now()
	issued := time.Unix(issuedAt, 0)
	if issued.Before(now.Add(-g.window)) || issued.After(now.Add(g.window)) {
		return fmt.Errorf("%w: issued %s, now %s", ErrStaleInstruction, issued.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	d := instructionDigest(signer, payload)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[d]; ok {
		return ErrReplayedInstruction
	}
	g.seen[d] = now
	return nil
}

// Forget drops a recorded instruction so that it may be retried. Used when the
// operation failed for a reason unrelated to the caller.
func (g *ReplayGuard) Forget(signer core.Identity, payload []byte) {
	d := instructionDigest(signer, payload)
	g.mu.Lock()
	delete(g.seen, d)
	g.mu.Unlock()
}

func (g *ReplayGuard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// expire removes digests older than maxAge.
func (g *ReplayGuard) expire(maxAge time.Duration) int {
	cutoff := g.clock.Now().Add(-maxAge)

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for d, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, d)
			removed++
		}
	}
	return removed
}

// StartExpirationCleanup periodically drops digests older than maxAge until ctx is done.
// maxAge should be at least twice the window: an instruction stays replayable for as long
// as its issued_at is accepted.
func (g *ReplayGuard) StartExpirationCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.expire(maxAge)
			}
		}
	}()
}
