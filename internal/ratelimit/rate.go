package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope names a throttled action.
type Scope string

const (
	ScopeMessageDefault  Scope = "message_default"
	ScopeTyping          Scope = "typing"
	ScopeChatbot         Scope = "chatbot"
	ScopeGroupMessage    Scope = "group_message"
	ScopeOneToOneMessage Scope = "one_to_one_message"
	ScopeBurstMessage    Scope = "burst_message"
)

// Rate allows Limit events per Window.
type Rate struct {
	Limit  int
	Window time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

var units = map[string]time.Duration{
	"s":      time.Second,
	"sec":    time.Second,
	"second": time.Second,
	"m":      time.Minute,
	"min":    time.Minute,
	"minute": time.Minute,
	"h":      time.Hour,
	"hour":   time.Hour,
	"d":      24 * time.Hour,
	"day":    24 * time.Hour,
}

// ParseRate reads strings like "10/min", "200/hour" or "5/s".
func ParseRate(raw string) (Rate, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return Rate{}, fmt.Errorf("rate %q: missing '/'", raw)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("rate %q: bad count", raw)
	}
	window, ok := units[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return Rate{}, fmt.Errorf("rate %q: unknown period %q", raw, unit)
	}
	return Rate{Limit: limit, Window: window}, nil
}

// ParseRates converts a scope-to-string map as loaded from config.
func ParseRates(raw map[string]string) (map[Scope]Rate, error) {
	out := make(map[Scope]Rate, len(raw))
	for scope, value := range raw {
		r, err := ParseRate(value)
		if err != nil {
			return nil, fmt.Errorf("throttle %s: %w", scope, err)
		}
		out[Scope(scope)] = r
	}
	return out, nil
}
