package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/podbay/internal/domain"
)

type memPortRepo struct {
	ports []int
	err   error
}

func (m *memPortRepo) UsedPorts(ctx context.Context) ([]int, error) {
	return m.ports, m.err
}

// Unused interface methods.
func (m *memPortRepo) Create(ctx context.Context, inst *domain.Instance) error { return nil }
func (m *memPortRepo) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	return nil, domain.ErrInstanceNotFound
}
func (m *memPortRepo) UpdateStatus(ctx context.Context, id int64, status string) error { return nil }
func (m *memPortRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Instance, error) {
	return nil, nil
}
func (m *memPortRepo) ListAll(ctx context.Context) ([]*domain.Instance, error) { return nil, nil }
func (m *memPortRepo) Delete(ctx context.Context, id int64) error              { return nil }

type memClaimer struct {
	claims map[string]bool
	err    error
}

func newMemClaimer() *memClaimer {
	return &memClaimer{claims: map[string]bool{}}
}

func (m *memClaimer) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *memClaimer) Delete(ctx context.Context, key string) error {
	delete(m.claims, key)
	return nil
}

func TestNextFreeStartsAtRangeStart(t *testing.T) {
	repo := &memPortRepo{}
	a := NewAllocator(31000, 31005, repo, nil, time.Minute, nil)

	port, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("NextFree failed: %v", err)
	}
	if port != 31000 {
		t.Fatalf("expected 31000, got %d", port)
	}
}

func TestNextFreeSkipsUsedPorts(t *testing.T) {
	repo := &memPortRepo{ports: []int{31000, 31001, 31003}}
	a := NewAllocator(31000, 31005, repo, nil, time.Minute, nil)

	port, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("NextFree failed: %v", err)
	}
	if port != 31002 {
		t.Fatalf("expected 31002, got %d", port)
	}
}

func TestNextFreeExhaustedRange(t *testing.T) {
	repo := &memPortRepo{ports: []int{31000, 31001, 31002}}
	a := NewAllocator(31000, 31002, repo, nil, time.Minute, nil)

	_, err := a.NextFree(context.Background())
	if !errors.Is(err, domain.ErrPortRangeExhausted) {
		t.Fatalf("expected ErrPortRangeExhausted, got %v", err)
	}
}

func TestNextFreeSkipsClaimedPorts(t *testing.T) {
	repo := &memPortRepo{}
	claimer := newMemClaimer()
	a := NewAllocator(31000, 31005, repo, claimer, time.Minute, nil)

	first, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("first NextFree failed: %v", err)
	}
	second, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("second NextFree failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ports while claims are held, got %d twice", first)
	}
}

func TestReleaseFreesClaim(t *testing.T) {
	repo := &memPortRepo{}
	claimer := newMemClaimer()
	a := NewAllocator(31000, 31000, repo, claimer, time.Minute, nil)

	port, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("NextFree failed: %v", err)
	}
	a.Release(context.Background(), port)

	again, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("NextFree after release failed: %v", err)
	}
	if again != port {
		t.Fatalf("expected released port %d, got %d", port, again)
	}
}

func TestClaimerOutageDegradesToPlainScan(t *testing.T) {
	repo := &memPortRepo{}
	claimer := newMemClaimer()
	claimer.err = errors.New("redis down")
	a := NewAllocator(31000, 31005, repo, claimer, time.Minute, nil)

	port, err := a.NextFree(context.Background())
	if err != nil {
		t.Fatalf("NextFree failed: %v", err)
	}
	if port != 31000 {
		t.Fatalf("expected 31000 despite claimer outage, got %d", port)
	}
}

func TestIsValid(t *testing.T) {
	a := NewAllocator(31000, 32000, &memPortRepo{}, nil, time.Minute, nil)

	cases := []struct {
		port int
		want bool
	}{
		{30999, false},
		{31000, true},
		{31500, true},
		{32000, true},
		{32001, false},
	}
	for _, tc := range cases {
		if got := a.IsValid(tc.port); got != tc.want {
			t.Errorf("IsValid(%d) = %v, want %v", tc.port, got, tc.want)
		}
	}
}

func TestStatsInvariant(t *testing.T) {
	repo := &memPortRepo{ports: []int{31004, 31001}}
	a := NewAllocator(31000, 31009, repo, nil, time.Minute, nil)

	stats, err := a.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 10 {
		t.Fatalf("expected total 10, got %d", stats.Total)
	}
	if stats.Used+stats.Available != stats.Total {
		t.Fatalf("used(%d) + available(%d) != total(%d)", stats.Used, stats.Available, stats.Total)
	}
	if stats.UsedPorts[0] != 31001 || stats.UsedPorts[1] != 31004 {
		t.Fatalf("expected sorted used ports, got %v", stats.UsedPorts)
	}
}
