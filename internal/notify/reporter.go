package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"winsbygroup.com/hwidserver/internal/activation"
)

const sendTimeout = 10 * time.Second

// RedemptionReporter tells a key's owner that the key was redeemed. Messages
// are sent in the background so the client response is not delayed.
type RedemptionReporter struct {
	notifier Notifier
	logger   *slog.Logger
	sync     bool
}

func NewRedemptionReporter(n Notifier, logger *slog.Logger) *RedemptionReporter {
	return &RedemptionReporter{notifier: n, logger: logger}
}

// Synchronous makes Redeemed wait for delivery.
func (r *RedemptionReporter) Synchronous() *RedemptionReporter {
	r.sync = true
	return r
}

func (r *RedemptionReporter) Redeemed(ctx context.Context, res *activation.Result) {
	text := RedemptionMessage(res)
	send := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := r.notifier.Notify(sctx, res.UserID, text); err != nil {
			r.logger.Warn("redemption notification failed", "user_id", res.UserID, "error", err)
		}
	}
	if r.sync {
		send()
		return
	}
	go send()
}

// RedemptionMessage renders the Markdown text sent to the key owner.
func RedemptionMessage(res *activation.Result) string {
	var b strings.Builder
	b.WriteString("*Key Activated!*\n\n")
	fmt.Fprintf(&b, "Key: `%s`\n", res.Key)
	fmt.Fprintf(&b, "HWID: `%s`\n", res.HWID)
	fmt.Fprintf(&b, "Expires: %s\n", res.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "User ID: `%d`\n", res.UserID)
	if res.Extended {
		b.WriteString("\nSubscription extended")
	} else {
		b.WriteString("\nNew subscription activated")
	}
	return b.String()
}
