package ports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yourorg/podbay/internal/domain"
)

// Claimer is the advisory reservation backend (Redis SETNX in production).
// A claim only narrows the window of the check-then-act race between
// concurrent allocations; the store's unique index remains the arbiter.
type Claimer interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Allocator hands out NodePorts from a fixed inclusive range, backed by the
// record store's current assignments.
type Allocator struct {
	rangeStart int
	rangeEnd   int
	repo       domain.InstanceRepository
	claimer    Claimer
	claimTTL   time.Duration
	logger     *slog.Logger
}

// NewAllocator creates a port allocator over [rangeStart, rangeEnd].
// claimer may be nil; allocation then degrades to a plain scan.
func NewAllocator(rangeStart, rangeEnd int, repo domain.InstanceRepository, claimer Claimer, claimTTL time.Duration, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		repo:       repo,
		claimer:    claimer,
		claimTTL:   claimTTL,
		logger:     logger,
	}
}

// NextFree returns the lowest port in range that is neither assigned in the
// store nor held by a live advisory claim. Returns ErrPortRangeExhausted when
// every port is taken.
func (a *Allocator) NextFree(ctx context.Context) (int, error) {
	used, err := a.repo.UsedPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read used ports: %w", err)
	}

	usedSet := make(map[int]struct{}, len(used))
	for _, p := range used {
		usedSet[p] = struct{}{}
	}

	for port := a.rangeStart; port <= a.rangeEnd; port++ {
		if _, taken := usedSet[port]; taken {
			continue
		}
		if !a.claim(ctx, port) {
			continue
		}
		return port, nil
	}

	return 0, domain.ErrPortRangeExhausted
}

// claim attempts the advisory reservation. Claimer outages are logged and
// treated as a granted claim so Redis never blocks allocation.
func (a *Allocator) claim(ctx context.Context, port int) bool {
	if a.claimer == nil {
		return true
	}
	ok, err := a.claimer.SetNX(ctx, claimKey(port), time.Now().Unix(), a.claimTTL)
	if err != nil {
		a.logger.Warn("port claim backend unavailable, proceeding without claim",
			slog.Int("port", port),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// Release drops the advisory claim for a port after a failed provisioning
// attempt. Safe to call for ports that were never claimed.
func (a *Allocator) Release(ctx context.Context, port int) {
	if a.claimer == nil {
		return
	}
	if err := a.claimer.Delete(ctx, claimKey(port)); err != nil {
		a.logger.Warn("failed to release port claim",
			slog.Int("port", port),
			slog.String("error", err.Error()),
		)
	}
}

// IsValid reports whether p falls inside the configured range.
func (a *Allocator) IsValid(p int) bool {
	return p >= a.rangeStart && p <= a.rangeEnd
}

// Stats returns a derived snapshot of range usage. Used + Available always
// equals Total.
func (a *Allocator) Stats(ctx context.Context) (domain.PortStats, error) {
	used, err := a.repo.UsedPorts(ctx)
	if err != nil {
		return domain.PortStats{}, fmt.Errorf("failed to read used ports: %w", err)
	}

	sorted := make([]int, len(used))
	copy(sorted, used)
	sort.Ints(sorted)

	total := a.rangeEnd - a.rangeStart + 1
	return domain.PortStats{
		Total:     total,
		Used:      len(sorted),
		Available: total - len(sorted),
		UsedPorts: sorted,
	}, nil
}

func claimKey(port int) string {
	return fmt.Sprintf("port:%d", port)
}
