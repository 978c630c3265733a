package activation

import (
	"context"
	"time"
)

// Result describes a successful redemption.
type Result struct {
	UserID      int64
	HWID        string
	Key         string
	GrantedDays int
	ExpiresAt   time.Time
	// Extended is true when an existing license was extended rather than
	// created.
	Extended bool
}

// Reporter is told about every committed redemption. Implementations must
// not block for long; failures are theirs to log.
type Reporter interface {
	Redeemed(ctx context.Context, res *Result)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(ctx context.Context, res *Result)

func (f ReporterFunc) Redeemed(ctx context.Context, res *Result) { f(ctx, res) }

// Finalizer completes a redemption inside its transaction, typically by
// building the signed response. Returning an error undoes the redemption.
type Finalizer func(res *Result) error

// Reporters fans a redemption out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) Redeemed(ctx context.Context, res *Result) {
	for _, r := range rs {
		r.Redeemed(ctx, res)
	}
}

type nopReporter struct{}

func (nopReporter) Redeemed(context.Context, *Result) {}
