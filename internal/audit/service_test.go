package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winsbygroup.com/hwidserver/internal/activation"
	"winsbygroup.com/hwidserver/internal/audit"
	"winsbygroup.com/hwidserver/internal/testutil"
)

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	svc := audit.NewService(testutil.NewTestDB(t), nil).WithClock(func() time.Time { return now })

	e, err := svc.Record(ctx, 100, audit.ActionBanned, audit.TargetUser, "42", "")
	require.NoError(t, err)
	_, err = uuid.Parse(e.EventID)
	assert.NoError(t, err)

	now = now.Add(time.Minute)
	svc.Log(ctx, audit.SystemActor, audit.ActionKeyRedeemed, audit.TargetHWID, "dev-A", "user=42")
	now = now.Add(time.Minute)
	svc.Log(ctx, 100, audit.ActionDaysAdded, audit.TargetUser, "42", "days=5")

	all, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, audit.ActionDaysAdded, all[0].Action, "newest first")
	assert.True(t, all[2].OccurredAt.Equal(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)))

	mine, err := svc.ListForActor(ctx, 100, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "days=5", mine[0].Details)
}

func TestRedeemedReporter(t *testing.T) {
	ctx := context.Background()
	svc := audit.NewService(testutil.NewTestDB(t), nil)

	var r activation.Reporter = svc
	r.Redeemed(ctx, &activation.Result{UserID: 42, HWID: "dev-A", Key: "KEY-1", GrantedDays: 30})

	events, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionKeyRedeemed, events[0].Action)
	assert.Equal(t, audit.SystemActor, events[0].ActorID)
	assert.Equal(t, "dev-A", events[0].TargetID)
	assert.Equal(t, "user=42 key=KEY-1 days=30 extended=false", events[0].Details)
}
