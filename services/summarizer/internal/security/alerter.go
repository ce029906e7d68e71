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

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Rule is the alert threshold for one audited event outcome.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per client IP and reports when a
// rule's threshold is reached within its window.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter creates an alerter over a shared Redis client.
func NewAuditAlerter(client *redis.Client, prefix string) (*AuditAlerter, error) {
	if client == nil {
		return nil, errors.New("audit alerter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mailguard:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}, nil
}

// Observe records one event and evaluates its rule. Events without a rule
// are ignored. A nil alerter observes nothing.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil {
		return result, nil
	}
	rule, ok := ruleFor(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix,
		sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = rule.Threshold
	result.Window = rule.Window
	result.Triggered = count >= rule.Threshold
	return result, nil
}

func ruleFor(event, outcome string) (Rule, bool) {
	event = strings.TrimSpace(event)
	switch strings.TrimSpace(outcome) {
	case "rate_limited":
		return Rule{Threshold: 20, Window: time.Minute}, true
	case "rejected":
		if event == "gate.quota" {
			return Rule{Threshold: 30, Window: 5 * time.Minute}, true
		}
		return Rule{}, false
	case "fail":
	default:
		return Rule{}, false
	}
	switch event {
	case "login", "register":
		return Rule{Threshold: 10, Window: 5 * time.Minute}, true
	case "gate.authorize", "gate.admin.authorize", "admin.authorize":
		return Rule{Threshold: 25, Window: 5 * time.Minute}, true
	case "admin.users.reset_password", "admin.users.delete", "config.update":
		return Rule{Threshold: 15, Window: 5 * time.Minute}, true
	default:
		return Rule{}, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
