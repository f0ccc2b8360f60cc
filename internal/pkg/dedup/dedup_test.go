package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestIsDuplicate(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduplicator(rdb, time.Hour)
	ctx := context.Background()

	const url = "https://autoplius.lt/skelbimai/bmw-320d-1234567.html"

	dup, err := d.IsDuplicate(ctx, url)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if dup {
		t.Error("first occurrence should not be a duplicate")
	}

	dup, err = d.IsDuplicate(ctx, url)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !dup {
		t.Error("second occurrence should be a duplicate")
	}
}

func TestWindowExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDeduplicator(rdb, time.Minute)
	ctx := context.Background()

	const url = "https://autogidas.lt/skelbimas/audi-a4-7654321.html"

	if _, err := d.IsDuplicate(ctx, url); err != nil {
		t.Fatalf("first check: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	dup, err := d.IsDuplicate(ctx, url)
	if err != nil {
		t.Fatalf("check after expiry: %v", err)
	}
	if dup {
		t.Error("URL should not be a duplicate after window expiry")
	}
}

func TestDeleteAllowsRetry(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduplicator(rdb, time.Hour)
	ctx := context.Background()

	const url = "https://autoplius.lt/skelbimai/vw-golf-1111111.html"

	if _, err := d.IsDuplicate(ctx, url); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := d.Delete(ctx, url); err != nil {
		t.Fatalf("delete: %v", err)
	}

	dup, err := d.IsDuplicate(ctx, url)
	if err != nil {
		t.Fatalf("check after delete: %v", err)
	}
	if dup {
		t.Error("URL should not be a duplicate after delete")
	}
}

func TestEmptyURLIsNeverDuplicate(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduplicator(rdb, time.Hour)

	dup, err := d.IsDuplicate(context.Background(), "")
	if err != nil {
		t.Fatalf("empty url: %v", err)
	}
	if dup {
		t.Error("empty url should never be a duplicate")
	}
}
