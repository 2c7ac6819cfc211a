// Package security raises alerts when failed or throttled security events
// from one client pile up.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Alert is the outcome of observing one event.
type Alert struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

type rule struct {
	threshold int64
	window    time.Duration
}

// AuditAlerter counts security events per event, outcome and client IP in
// fixed Redis windows.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
}

// NewAuditAlerter builds an alerter on a shared client.
func NewAuditAlerter(client redis.UniversalClient, prefix string) (*AuditAlerter, error) {
	if client == nil {
		return nil, errors.New("alerter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookshelf:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix}, nil
}

// Observe records one event. Events without a rule are ignored. A nil
// alerter observes nothing.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (Alert, error) {
	if a == nil {
		return Alert{}, nil
	}
	r, ok := ruleFor(event, outcome)
	if !ok {
		return Alert{}, nil
	}
	windowMs := r.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, segment(event), segment(outcome), segment(ip), slot)
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return Alert{}, err
	}
	return Alert{
		Triggered: count >= r.threshold,
		Count:     count,
		Threshold: r.threshold,
		Window:    r.window,
	}, nil
}

func ruleFor(event, outcome string) (rule, bool) {
	switch outcome {
	case "rate_limited":
		return rule{20, time.Minute}, true
	case "fail":
	default:
		return rule{}, false
	}
	switch event {
	case "catalog.login", "catalog.register":
		return rule{10, 5 * time.Minute}, true
	case "catalog.refresh", "catalog.logout":
		return rule{15, 5 * time.Minute}, true
	case "catalog.token.verify", "catalog.admin.authorize":
		return rule{25, 5 * time.Minute}, true
	}
	return rule{}, false
}

func segment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
