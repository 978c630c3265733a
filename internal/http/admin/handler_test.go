package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/audit"
	"winsbygroup.com/hwidserver/internal/backup"
	"winsbygroup.com/hwidserver/internal/http/admin"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/middleware"
	"winsbygroup.com/hwidserver/internal/pending"
	"winsbygroup.com/hwidserver/internal/subscription"
	"winsbygroup.com/hwidserver/internal/testutil"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	db       *sqlx.DB
	e        *echo.Echo
	keys     *subscription.Service
	licenses *license.Service
	audit    *audit.Service
}

func newFixture(t *testing.T, withBackup bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	db := testutil.NewTestDBAt(t, filepath.Join(dir, "test.db"))
	clock := func() time.Time { return t0 }

	f := &fixture{
		db:       db,
		keys:     subscription.NewService(db).WithClock(clock),
		licenses: license.NewService(db).WithClock(clock),
		audit:    audit.NewService(db, nil).WithClock(clock),
	}

	var b *backup.Service
	if withBackup {
		b = backup.NewService(db, filepath.Join(dir, "backups"), nil).WithClock(clock)
	}
	svc := admin.NewService(f.keys, f.licenses, f.audit, pending.NewStore(5*time.Minute).WithClock(clock), b)

	f.e = echo.New()
	admin.RegisterRoutes(f.e.Group("/api/admin", middleware.AdminIdentity()), admin.NewHandler(svc, nil))
	return f
}

func (f *fixture) seedLicense(t *testing.T, userID int64, hwid string, expires time.Time) {
	t.Helper()
	ctx := context.Background()
	err := f.licenses.WithTx(ctx, func(tx *sqlx.Tx) error {
		return f.licenses.Create(ctx, tx, &license.License{UserID: userID, HWID: hwid, ExpiresAt: expires})
	})
	if err != nil {
		t.Fatalf("seed license: %v", err)
	}
}

// do sends body as JSON on behalf of adminID.
func (f *fixture) do(t *testing.T, adminID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.AdminIDHeader, strconv.FormatInt(adminID, 10))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
}

func (f *fixture) actions(t *testing.T, actor int64) map[string]audit.Event {
	t.Helper()
	events, err := f.audit.ListForActor(context.Background(), actor, 100)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make(map[string]audit.Event, len(events))
	for _, e := range events {
		out[e.Action] = e
	}
	return out
}

// ============================================================================
// Keys
// ============================================================================

func TestIssueKeys(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, 7, http.MethodPost, "/api/admin/keys", admin.IssueKeysRequest{OwnerUserID: 5, Days: 30, Count: 3})
	expectStatus(t, rec, http.StatusCreated)
	if keys := decode[[]subscription.Key](t, rec); len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}

	rec = f.do(t, 7, http.MethodGet, "/api/admin/keys?owner=5", nil)
	expectStatus(t, rec, http.StatusOK)
	keys := decode[[]subscription.Key](t, rec)
	if len(keys) != 3 || keys[0].GrantedDays != 30 {
		t.Errorf("unexpected keys %+v", keys)
	}

	ev, ok := f.actions(t, 7)[audit.ActionKeysIssued]
	if !ok {
		t.Fatal("expected keys_issued audit event")
	}
	if ev.TargetType != audit.TargetUser || ev.TargetID != "5" {
		t.Errorf("unexpected audit target %s/%s", ev.TargetType, ev.TargetID)
	}
}

func TestIssueKeysDefaultsToOne(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, 1, http.MethodPost, "/api/admin/keys", admin.IssueKeysRequest{OwnerUserID: 5, Days: 30})
	expectStatus(t, rec, http.StatusCreated)
	if keys := decode[[]subscription.Key](t, rec); len(keys) != 1 {
		t.Errorf("expected 1 key, got %d", len(keys))
	}
}

func TestIssueKeysValidation(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name string
		req  admin.IssueKeysRequest
	}{
		{"no owner", admin.IssueKeysRequest{Days: 30}},
		{"zero days", admin.IssueKeysRequest{OwnerUserID: 5}},
		{"too many", admin.IssueKeysRequest{OwnerUserID: 5, Days: 30, Count: 101}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, 1, http.MethodPost, "/api/admin/keys", tt.req)
			expectStatus(t, rec, http.StatusBadRequest)
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestExtendAndDeleteKey(t *testing.T) {
	f := newFixture(t, false)
	keys, err := f.keys.Issue(context.Background(), 5, 30, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := keys[0].Code

	rec := f.do(t, 2, http.MethodPost, "/api/admin/keys/"+code+"/extend", admin.ExtendKeyRequest{Days: 5})
	expectStatus(t, rec, http.StatusOK)
	if k := decode[subscription.Key](t, rec); k.GrantedDays != 35 {
		t.Errorf("expected 35 days, got %d", k.GrantedDays)
	}

	rec = f.do(t, 2, http.MethodPost, "/api/admin/keys/"+code+"/extend", admin.ExtendKeyRequest{})
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, f.do(t, 2, http.MethodDelete, "/api/admin/keys/"+code, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, 2, http.MethodDelete, "/api/admin/keys/"+code, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, 2, http.MethodPost, "/api/admin/keys/"+code+"/extend", admin.ExtendKeyRequest{Days: 1}), http.StatusNotFound)

	got := f.actions(t, 2)
	for _, a := range []string{audit.ActionKeyExtended, audit.ActionKeyDeleted} {
		if _, ok := got[a]; !ok {
			t.Errorf("expected %s audit event", a)
		}
	}
}

func TestPurgeKeys(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.keys.Issue(ctx, 5, 30, 4); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.keys.Issue(ctx, 6, 30, 1); err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec := f.do(t, 3, http.MethodPost, "/api/admin/keys/purge", admin.PurgeKeysRequest{UserID: 5})
	expectStatus(t, rec, http.StatusAccepted)

	// nothing happens until confirmed
	if keys, _ := f.keys.ListForOwner(ctx, 5); len(keys) != 4 {
		t.Fatalf("expected keys to survive staging, got %d", len(keys))
	}

	staged := decode[admin.StagedResponse](t, rec)
	rec = f.do(t, 3, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{Token: staged.Action.Token})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[admin.ConfirmResponse](t, rec); out.Affected != 4 || out.Action.Kind != pending.KindDeleteUserKeys {
		t.Errorf("unexpected confirm response %+v", out)
	}

	if keys, _ := f.keys.ListForOwner(ctx, 5); len(keys) != 0 {
		t.Errorf("expected owner 5 keys purged, got %d", len(keys))
	}
	if keys, _ := f.keys.ListForOwner(ctx, 6); len(keys) != 1 {
		t.Errorf("expected owner 6 keys untouched, got %d", len(keys))
	}
	if _, ok := f.actions(t, 3)[audit.ActionKeysPurged]; !ok {
		t.Error("expected keys_purged audit event")
	}
}

// ============================================================================
// Licenses
// ============================================================================

func TestBanAndUnban(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-a", t0.Add(day))
	f.seedLicense(t, 10, "hw-b", t0.Add(day))
	f.seedLicense(t, 11, "hw-c", t0.Add(day))

	rec := f.do(t, 4, http.MethodPost, "/api/admin/licenses/ban", admin.TargetRequest{UserID: 10})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[admin.AffectedResponse](t, rec); out.Affected != 2 {
		t.Errorf("expected 2 banned, got %d", out.Affected)
	}

	rec = f.do(t, 4, http.MethodGet, "/api/admin/licenses?status=banned", nil)
	expectStatus(t, rec, http.StatusOK)
	if lics := decode[[]license.License](t, rec); len(lics) != 2 {
		t.Errorf("expected 2 banned licenses, got %d", len(lics))
	}

	rec = f.do(t, 4, http.MethodPost, "/api/admin/licenses/unban", admin.TargetRequest{HWID: "hw-a"})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[admin.AffectedResponse](t, rec); out.Affected != 1 {
		t.Errorf("expected 1 unbanned, got %d", out.Affected)
	}

	lic, err := f.licenses.GetByHWID(context.Background(), "hw-a")
	if err != nil {
		t.Fatalf("get license: %v", err)
	}
	if lic.Banned {
		t.Error("expected hw-a unbanned")
	}

	got := f.actions(t, 4)
	if ev := got[audit.ActionBanned]; ev.TargetType != audit.TargetUser || ev.TargetID != "10" {
		t.Errorf("unexpected ban audit %+v", ev)
	}
	if ev := got[audit.ActionUnbanned]; ev.TargetType != audit.TargetHWID || ev.TargetID != "hw-a" {
		t.Errorf("unexpected unban audit %+v", ev)
	}
}

func TestTargetValidation(t *testing.T) {
	f := newFixture(t, false)

	for _, req := range []admin.TargetRequest{
		{},
		{UserID: 1, HWID: "hw-a"},
	} {
		rec := f.do(t, 1, http.MethodPost, "/api/admin/licenses/ban", req)
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestAddDays(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-live", t0.Add(2*day))
	f.seedLicense(t, 10, "hw-lapsed", t0.Add(-3*day))

	rec := f.do(t, 1, http.MethodPost, "/api/admin/licenses/days", admin.TargetRequest{UserID: 10, Days: 5})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[admin.AffectedResponse](t, rec); out.Affected != 2 {
		t.Errorf("expected 2 extended, got %d", out.Affected)
	}

	ctx := context.Background()
	live, _ := f.licenses.GetByHWID(ctx, "hw-live")
	if !live.ExpiresAt.Equal(t0.Add(7 * day)) {
		t.Errorf("live license: expected %v, got %v", t0.Add(7*day), live.ExpiresAt)
	}
	lapsed, _ := f.licenses.GetByHWID(ctx, "hw-lapsed")
	if !lapsed.ExpiresAt.Equal(t0.Add(5 * day)) {
		t.Errorf("lapsed license: expected %v, got %v", t0.Add(5*day), lapsed.ExpiresAt)
	}

	t.Run("zero days", func(t *testing.T) {
		rec := f.do(t, 1, http.MethodPost, "/api/admin/licenses/days", admin.TargetRequest{HWID: "hw-live"})
		expectStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("unknown hwid", func(t *testing.T) {
		rec := f.do(t, 1, http.MethodPost, "/api/admin/licenses/days", admin.TargetRequest{HWID: "nope", Days: 1})
		expectStatus(t, rec, http.StatusNotFound)
	})
}

func TestAddDaysAllIsStaged(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-a", t0.Add(day))
	f.seedLicense(t, 11, "hw-b", t0.Add(day))

	expectStatus(t, f.do(t, 1, http.MethodPost, "/api/admin/licenses/days/all", admin.AddDaysAllRequest{}), http.StatusBadRequest)

	rec := f.do(t, 1, http.MethodPost, "/api/admin/licenses/days/all", admin.AddDaysAllRequest{Days: 3})
	expectStatus(t, rec, http.StatusAccepted)

	// empty token confirms whatever is pending
	rec = f.do(t, 1, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{})
	expectStatus(t, rec, http.StatusOK)
	if out := decode[admin.ConfirmResponse](t, rec); out.Affected != 2 {
		t.Errorf("expected 2 extended, got %d", out.Affected)
	}

	lic, _ := f.licenses.GetByHWID(context.Background(), "hw-b")
	if !lic.ExpiresAt.Equal(t0.Add(4 * day)) {
		t.Errorf("expected %v, got %v", t0.Add(4*day), lic.ExpiresAt)
	}
	if ev, ok := f.actions(t, 1)[audit.ActionDaysAddedAll]; !ok || ev.TargetType != audit.TargetAll {
		t.Errorf("unexpected audit %+v", ev)
	}
}

func TestListLicenses(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "desk-01", t0.Add(day))
	f.seedLicense(t, 11, "desk-02", t0.Add(-day))
	f.seedLicense(t, 12, "laptop-01", t0.Add(day))

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?q=desk", 2},
		{"?status=expired", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(t, 1, http.MethodGet, "/api/admin/licenses"+tt.query, nil)
			expectStatus(t, rec, http.StatusOK)
			if lics := decode[[]license.License](t, rec); len(lics) != tt.want {
				t.Errorf("expected %d licenses, got %d", tt.want, len(lics))
			}
		})
	}

	expectStatus(t, f.do(t, 1, http.MethodGet, "/api/admin/licenses?status=bogus", nil), http.StatusBadRequest)

	rec := f.do(t, 1, http.MethodGet, "/api/admin/licenses/user/11", nil)
	expectStatus(t, rec, http.StatusOK)
	if lics := decode[[]license.License](t, rec); len(lics) != 1 || lics[0].HWID != "desk-02" {
		t.Errorf("unexpected user licenses %+v", lics)
	}
	expectStatus(t, f.do(t, 1, http.MethodGet, "/api/admin/licenses/user/abc", nil), http.StatusBadRequest)
}

// ============================================================================
// Two-step reset
// ============================================================================

func TestResetFlow(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-a", t0.Add(day))

	expectStatus(t, f.do(t, 8, http.MethodPost, "/api/admin/licenses/reset", admin.ResetRequest{HWID: "unknown"}), http.StatusNotFound)

	rec := f.do(t, 8, http.MethodPost, "/api/admin/licenses/reset", admin.ResetRequest{HWID: "hw-a"})
	expectStatus(t, rec, http.StatusAccepted)
	staged := decode[admin.StagedResponse](t, rec)
	if staged.Action.Kind != pending.KindResetHWID || staged.Action.Token == "" {
		t.Fatalf("unexpected staged action %+v", staged.Action)
	}

	rec = f.do(t, 8, http.MethodGet, "/api/admin/pending", nil)
	expectStatus(t, rec, http.StatusOK)
	if a := decode[pending.Action](t, rec); a.HWID != "hw-a" {
		t.Errorf("unexpected pending action %+v", a)
	}

	// another admin cannot see or confirm it
	expectStatus(t, f.do(t, 9, http.MethodGet, "/api/admin/pending", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, 9, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{Token: staged.Action.Token}), http.StatusNotFound)

	expectStatus(t, f.do(t, 8, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{Token: "wrong"}), http.StatusConflict)

	rec = f.do(t, 8, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{Token: staged.Action.Token})
	expectStatus(t, rec, http.StatusOK)

	if _, err := f.licenses.GetByHWID(context.Background(), "hw-a"); !errors.Is(err, license.ErrNotFound) {
		t.Errorf("expected license removed, got %v", err)
	}
	if ev, ok := f.actions(t, 8)[audit.ActionLicenseReset]; !ok || ev.TargetID != "hw-a" {
		t.Errorf("unexpected audit %+v", ev)
	}

	// consumed
	expectStatus(t, f.do(t, 8, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{Token: staged.Action.Token}), http.StatusNotFound)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-a", t0.Add(day))

	expectStatus(t, f.do(t, 1, http.MethodPost, "/api/admin/licenses/reset", admin.ResetRequest{HWID: "hw-a"}), http.StatusAccepted)
	expectStatus(t, f.do(t, 1, http.MethodDelete, "/api/admin/pending", nil), http.StatusNoContent)
	expectStatus(t, f.do(t, 1, http.MethodDelete, "/api/admin/pending", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, 1, http.MethodPost, "/api/admin/pending/confirm", admin.ConfirmRequest{}), http.StatusNotFound)

	if _, err := f.licenses.GetByHWID(context.Background(), "hw-a"); err != nil {
		t.Errorf("expected license kept, got %v", err)
	}
}

// ============================================================================
// Reporting and backup
// ============================================================================

func TestStatsAndAudit(t *testing.T) {
	f := newFixture(t, false)
	f.seedLicense(t, 10, "hw-a", t0.Add(day))
	f.seedLicense(t, 11, "hw-b", t0.Add(-day))

	expectStatus(t, f.do(t, 6, http.MethodPost, "/api/admin/keys", admin.IssueKeysRequest{OwnerUserID: 5, Days: 30, Count: 2}), http.StatusCreated)
	expectStatus(t, f.do(t, 6, http.MethodPost, "/api/admin/licenses/ban", admin.TargetRequest{HWID: "hw-b"}), http.StatusOK)

	rec := f.do(t, 6, http.MethodGet, "/api/admin/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[admin.StatsResponse](t, rec)
	if stats.Licenses.Licenses != 2 || stats.Licenses.Banned != 1 || stats.Keys.Keys != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = f.do(t, 6, http.MethodGet, "/api/admin/audit?actor=6", nil)
	expectStatus(t, rec, http.StatusOK)
	if events := decode[[]audit.Event](t, rec); len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}

	rec = f.do(t, 6, http.MethodGet, "/api/admin/audit?limit=1", nil)
	expectStatus(t, rec, http.StatusOK)
	if events := decode[[]audit.Event](t, rec); len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}

	expectStatus(t, f.do(t, 6, http.MethodGet, "/api/admin/audit?limit=x", nil), http.StatusBadRequest)
}

func TestBackup(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, false)
		expectStatus(t, f.do(t, 1, http.MethodPost, "/api/admin/backup", nil), http.StatusNotImplemented)
	})

	t.Run("writes a dump", func(t *testing.T) {
		f := newFixture(t, true)
		rec := f.do(t, 1, http.MethodPost, "/api/admin/backup", nil)
		expectStatus(t, rec, http.StatusOK)

		res := decode[backup.BackupResult](t, rec)
		if res.Filename != "2025-06-01_12.00.00_hwiddump.sql.gz" {
			t.Errorf("unexpected filename %q", res.Filename)
		}
		if ev, ok := f.actions(t, 1)[audit.ActionBackupCreated]; !ok || ev.TargetID != res.Filename {
			t.Errorf("unexpected audit %+v", ev)
		}
	})
}

func TestStorageFailureIsOpaque(t *testing.T) {
	f := newFixture(t, false)
	f.db.Close()

	rec := f.do(t, 1, http.MethodGet, "/api/admin/keys", nil)
	expectStatus(t, rec, http.StatusInternalServerError)
	if body := decode[map[string]string](t, rec); body["error"] != "internal error" {
		t.Errorf("unexpected body %v", body)
	}
}
