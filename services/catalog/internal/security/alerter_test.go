package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) (*AuditAlerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	a, err := NewAuditAlerter(client, "test:alerts")
	if err != nil {
		t.Fatalf("new alerter: %v", err)
	}
	return a, mr
}

func TestAuditAlerterTriggersAtThreshold(t *testing.T) {
	a, _ := newAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		res, err := a.Observe(ctx, "catalog.login", "fail", "10.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if res.Triggered != (i == 10) {
			t.Fatalf("attempt %d triggered=%v", i, res.Triggered)
		}
	}
	res, _ := a.Observe(ctx, "catalog.login", "fail", "10.0.0.2")
	if res.Count != 1 {
		t.Fatalf("counters must be per ip, got %d", res.Count)
	}
}

func TestAuditAlerterIgnoresEventsWithoutRule(t *testing.T) {
	a, mr := newAlerter(t)
	for _, tc := range []struct{ event, outcome string }{
		{"catalog.login", "success"},
		{"catalog.book.delete", "fail"},
	} {
		res, err := a.Observe(context.Background(), tc.event, tc.outcome, "10.0.0.1")
		if err != nil || res.Triggered || res.Count != 0 {
			t.Fatalf("%s/%s: unexpected %+v err=%v", tc.event, tc.outcome, res, err)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestAuditAlerterWindowExpires(t *testing.T) {
	a, mr := newAlerter(t)
	ctx := context.Background()
	if _, err := a.Observe(ctx, "catalog.login", "rate_limited", "10.0.0.1"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestNilAlerterObservesNothing(t *testing.T) {
	var a *AuditAlerter
	if res, err := a.Observe(context.Background(), "catalog.login", "fail", "x"); err != nil || res.Triggered {
		t.Fatalf("nil alerter: %+v %v", res, err)
	}
}
