package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestLockStore_TripLockIsExclusive(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	token, ok, err := store.AcquireTripLock(ctx, "t1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	_, ok, err = store.AcquireTripLock(ctx, "t1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second acquire on the same trip should fail")
	}

	// Other trips are independent.
	if _, ok, _ := store.AcquireTripLock(ctx, "t2", time.Minute); !ok {
		t.Error("lock on another trip should succeed")
	}

	if err := store.ReleaseTripLock(ctx, "t1", token); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, ok, _ := store.AcquireTripLock(ctx, "t1", time.Minute); !ok {
		t.Error("lock should be free after release")
	}
}

func TestLockStore_ReleaseWithStaleTokenKeepsNewOwner(t *testing.T) {
	t.Parallel()

	client, mr := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	stale, _, _ := store.AcquireTripLock(ctx, "t1", time.Second)
	mr.FastForward(2 * time.Second)

	owner, ok, _ := store.AcquireTripLock(ctx, "t1", time.Minute)
	if !ok {
		t.Fatal("expected lock to be available after expiry")
	}

	if err := store.ReleaseTripLock(ctx, "t1", stale); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	got, err := mr.Get("lock:trip:t1")
	if err != nil {
		t.Fatalf("lock key missing after stale release: %v", err)
	}
	if got != owner {
		t.Errorf("lock owner = %q, want %q", got, owner)
	}
}

func TestEventStore_MarkProcessed(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	store := NewEventStore(client)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evnt_1")
	if err != nil || !first {
		t.Fatalf("expected first delivery, got %v %v", first, err)
	}

	again, _ := store.MarkProcessed(ctx, "evnt_1")
	if again {
		t.Error("redelivery should not be reported as first")
	}

	_ = store.Forget(ctx, "evnt_1")
	if retry, _ := store.MarkProcessed(ctx, "evnt_1"); !retry {
		t.Error("forgotten event should be processable again")
	}
}

func TestCacheStore_TripSummaryRoundTripAndInvalidate(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	miss, err := store.GetTripSummary(ctx, "t1")
	if err != nil || miss != nil {
		t.Fatalf("expected miss, got %v %v", miss, err)
	}

	summary := &CachedTripSummary{ID: "t1", State: "AWAITING_PAYMENTS", TotalPrice: 1785}
	if err := store.SetTripSummary(ctx, summary); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := store.GetTripSummary(ctx, "t1")
	if err != nil || got == nil || got.TotalPrice != 1785 {
		t.Fatalf("unexpected cached summary: %+v %v", got, err)
	}

	_ = store.InvalidateTrip(ctx, "t1")
	if got, _ := store.GetTripSummary(ctx, "t1"); got != nil {
		t.Error("expected summary to be gone after invalidation")
	}
}
