package flow

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/iqcalorie/caloriebot/internal/cache"
)

const (
	abuseKeyPrefix = "abuse:"
	abuseWindow    = time.Hour
	// abuseLogThreshold is where repeated unknown-sender traffic gets loud in
	// the logs; below it a single stray message is only a debug line.
	abuseLogThreshold = 5
)

// AbuseTracker counts messages from unrecognized senders over a sliding
// window. Unknown senders are never answered; the counter exists so
// operators can spot probing without a reply channel leaking that the
// number is live.
type AbuseTracker struct {
	kv cache.KV
}

// NewAbuseTracker creates a tracker over the shared KV.
func NewAbuseTracker(kv cache.KV) *AbuseTracker {
	return &AbuseTracker{kv: kv}
}

// Record counts one message from an unknown sender and returns the running
// total within the window. Counter failures are swallowed; abuse accounting
// never affects turn handling.
func (a *AbuseTracker) Record(ctx context.Context, sender string) int64 {
	n, err := a.kv.Incr(ctx, abuseKeyPrefix+sender, abuseWindow)
	if err != nil {
		slog.Warn("AbuseTracker increment failed", "error", err, "sender", sender)
		return 0
	}
	if n >= abuseLogThreshold {
		slog.Warn("AbuseTracker repeated messages from unknown sender", "sender", sender, "count", n)
	} else {
		slog.Debug("AbuseTracker dropped message from unknown sender", "sender", sender, "count", n)
	}
	return n
}

// Count returns the current window total for a sender without incrementing.
func (a *AbuseTracker) Count(ctx context.Context, sender string) int64 {
	raw, ok, err := a.kv.Get(ctx, abuseKeyPrefix+sender)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
