package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/activation"
	"winsbygroup.com/hwidserver/internal/http/client"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/nonce"
	"winsbygroup.com/hwidserver/internal/signing"
	"winsbygroup.com/hwidserver/internal/subscription"
	"winsbygroup.com/hwidserver/internal/testutil"
	"winsbygroup.com/hwidserver/internal/validation"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

const boxKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fixture struct {
	db       *sqlx.DB
	keys     *subscription.Service
	licenses *license.Service
	handler  *client.Handler
	now      time.Time
}

func newFixture(t *testing.T, mode signing.Mode, sealer signing.Sealer) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)

	f := &fixture{db: db, now: t0}
	clock := func() time.Time { return f.now }

	f.keys = subscription.NewService(db).WithClock(clock)
	f.licenses = license.NewService(db).WithClock(clock)
	engine := activation.NewService(db, f.keys, f.licenses, nil).WithClock(clock)
	checker := validation.NewService(f.licenses).WithClock(clock)

	var signer *signing.Signer
	if mode != signing.ModePlain {
		signer = signing.NewSigner(testutil.RSAKey(t))
	}
	auth, err := signing.NewAuthenticator(mode, signer, sealer)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	auth.WithClock(clock)

	f.handler = client.NewHandler(engine, checker, auth, nil)
	return f
}

func (f *fixture) issue(t *testing.T, owner int64, days int) string {
	t.Helper()
	keys, err := f.keys.Issue(context.Background(), owner, days, 1)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	return keys[0].Code
}

// post sends params as a form body.
func post(t *testing.T, h echo.HandlerFunc, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(params.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

// get sends params in the query string.
func get(t *testing.T, h echo.HandlerFunc, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return body
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != false {
		t.Errorf("expected success false, got %v", body["success"])
	}
	if body["message"] != message {
		t.Errorf("expected message %q, got %q", message, body["message"])
	}
}

func TestActivatePlain(t *testing.T) {
	ctx := context.Background()

	t.Run("activates a new subscription", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		code := f.issue(t, 42, 30)

		rec := post(t, f.handler.Activate, url.Values{"hwid": {"  dev-A "}, "key": {code}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		var resp client.ActivateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !resp.Success || resp.Message != client.MsgActivated {
			t.Errorf("unexpected result %v %q", resp.Success, resp.Message)
		}
		if resp.User == nil || resp.User.ID != 42 || resp.User.HWID != "dev-A" || resp.User.Banned {
			t.Fatalf("unexpected user %+v", resp.User)
		}
		if want := t0.Add(30 * day).Format(client.SubscriptionLayout); resp.User.Subscription != want {
			t.Errorf("expected subscription %q, got %q", want, resp.User.Subscription)
		}

		body := decode(t, rec)
		if _, ok := body["signature"]; ok {
			t.Error("plain response must not carry a signature")
		}
	})

	t.Run("reports an extension", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})

		rec := get(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 10)}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		body := decode(t, rec)
		if body["message"] != client.MsgExtended {
			t.Errorf("expected %q, got %q", client.MsgExtended, body["message"])
		}
		user := body["user"].(map[string]any)
		if want := t0.Add(40 * day).Format(client.SubscriptionLayout); user["subscription"] != want {
			t.Errorf("expected subscription %q, got %q", want, user["subscription"])
		}
	})

	t.Run("missing parameters", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {"   "}})
		expectError(t, rec, http.StatusBadRequest, "Missing required parameters: hwid and key")
	})

	t.Run("parameters too long", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {strings.Repeat("h", 256)}, "key": {"k"}})
		expectError(t, rec, http.StatusBadRequest, "Parameters too long")
	})

	t.Run("unknown key", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {"SENTINEL-NOPE"}})
		expectError(t, rec, http.StatusNotFound, "Invalid subscription key")
	})

	t.Run("invalid duration", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		_, err := f.db.Exec(f.db.Rebind(`INSERT INTO subscription_key (code, owner_user_id, granted_days, created_at) VALUES (?, ?, ?, ?)`),
			"SENTINEL-ZERO", 42, 0, t0)
		if err != nil {
			t.Fatalf("insert key: %v", err)
		}
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {"SENTINEL-ZERO"}})
		expectError(t, rec, http.StatusBadRequest, "Invalid subscription duration")
	})

	t.Run("expired key window", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		code := f.issue(t, 42, 5)
		err := f.keys.WithTx(ctx, func(tx *sqlx.Tx) error {
			return f.keys.MarkActivated(ctx, tx, code, t0)
		})
		if err != nil {
			t.Fatalf("mark activated: %v", err)
		}
		f.now = t0.Add(6 * day)

		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {code}})
		expectError(t, rec, http.StatusGone, "Subscription key has expired")
	})

	t.Run("banned user", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})
		if _, err := f.licenses.BanUser(ctx, 42); err != nil {
			t.Fatalf("ban: %v", err)
		}

		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})
		expectError(t, rec, http.StatusForbidden, "User is banned")
	})

	t.Run("hwid held by another user", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})

		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 77, 30)}})
		expectError(t, rec, http.StatusConflict, "HWID already registered with different account")
	})

	t.Run("database failure is generic", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		f.db.Close()
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {"SENTINEL-X"}})
		expectError(t, rec, http.StatusInternalServerError, "Database error")
	})
}

func TestCheckPlain(t *testing.T) {
	ctx := context.Background()

	t.Run("missing hwid", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		expectError(t, get(t, f.handler.Check, url.Values{}), http.StatusBadRequest, "Missing required parameter: hwid")
	})

	t.Run("hwid too long", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := get(t, f.handler.Check, url.Values{"hwid": {strings.Repeat("h", 256)}})
		expectError(t, rec, http.StatusBadRequest, "HWID too long")
	})

	t.Run("unknown hwid is answered with 200", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := get(t, f.handler.Check, url.Values{"hwid": {"ghost"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		body := decode(t, rec)
		if body["success"] != false || body["valid"] != false || body["message"] != client.MsgHWIDNotFound {
			t.Errorf("unexpected body %v", body)
		}
		if user, ok := body["user"]; !ok || user != nil {
			t.Errorf("expected user null, got %v", user)
		}
	})

	f := newFixture(t, signing.ModePlain, nil)
	post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})
	post(t, f.handler.Activate, url.Values{"hwid": {"dev-B"}, "key": {f.issue(t, 43, 1)}})
	post(t, f.handler.Activate, url.Values{"hwid": {"dev-C"}, "key": {f.issue(t, 44, 30)}})
	if _, err := f.licenses.BanUser(ctx, 44); err != nil {
		t.Fatalf("ban: %v", err)
	}
	f.now = t0.Add(2*day + time.Hour)

	tests := []struct {
		hwid    string
		valid   bool
		message string
		expired bool
		banned  bool
		days    float64
	}{
		{"dev-A", true, client.MsgValid, false, false, 27},
		{"dev-B", false, client.MsgExpired, true, false, 0},
		{"dev-C", false, client.MsgBanned, false, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.hwid, func(t *testing.T) {
			rec := post(t, f.handler.Check, url.Values{"hwid": {tt.hwid}})
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			body := decode(t, rec)
			if body["success"] != true || body["valid"] != tt.valid || body["message"] != tt.message {
				t.Errorf("unexpected body %v", body)
			}
			user := body["user"].(map[string]any)
			if user["expired"] != tt.expired || user["banned"] != tt.banned {
				t.Errorf("unexpected user flags %v", user)
			}
			if user["days_remaining"] != tt.days {
				t.Errorf("expected %v days remaining, got %v", tt.days, user["days_remaining"])
			}
			if _, ok := body["days_remaining"]; ok {
				t.Error("plain check must not carry top-level days_remaining")
			}
		})
	}
}

func TestSignedResponses(t *testing.T) {
	pub := &testutil.RSAKey(t).PublicKey

	t.Run("nonce is required", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}})
		expectError(t, rec, http.StatusBadRequest, "Missing required parameter: nonce")

		rec = get(t, f.handler.Check, url.Values{"hwid": {"dev-A"}})
		expectError(t, rec, http.StatusBadRequest, "Missing required parameter: nonce")
	})

	t.Run("activate signature verifies", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}, "nonce": {"n-1"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		var resp client.ActivateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Signed == nil || resp.Nonce != "n-1" || resp.Timestamp != t0.Unix() {
			t.Fatalf("unexpected signed fields %+v", resp.Signed)
		}
		expiry, err := time.Parse(time.RFC3339, resp.Expiry)
		if err != nil {
			t.Fatalf("parse expiry: %v", err)
		}
		fields := signing.Fields{HWID: resp.User.HWID, Expiry: expiry, Valid: true, Nonce: resp.Nonce, Timestamp: resp.Timestamp}
		if err := signing.Verify(pub, fields, resp.Signature); err != nil {
			t.Errorf("signature does not verify: %v", err)
		}
	})

	t.Run("check carries days remaining at top level", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}, "nonce": {"n-1"}})

		rec := get(t, f.handler.Check, url.Values{"hwid": {"dev-A"}, "nonce": {"n-2"}})
		var resp client.CheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.DaysRemaining == nil || *resp.DaysRemaining != 30 {
			t.Fatalf("expected 30 days remaining, got %v", resp.DaysRemaining)
		}
		fields := signing.Fields{HWID: "dev-A", Expiry: t0.Add(30 * day), Valid: true, Nonce: "n-2", Timestamp: t0.Unix()}
		if err := signing.Verify(pub, fields, resp.Signature); err != nil {
			t.Errorf("signature does not verify: %v", err)
		}
	})

	t.Run("unknown hwid is signed as invalid", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		rec := get(t, f.handler.Check, url.Values{"hwid": {"ghost"}, "nonce": {"n-3"}})
		var resp client.CheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Expiry != "" || resp.User != nil || resp.Valid {
			t.Errorf("unexpected response %+v", resp)
		}
		fields := signing.Fields{HWID: "ghost", Nonce: "n-3", Timestamp: t0.Unix()}
		if err := signing.Verify(pub, fields, resp.Signature); err != nil {
			t.Errorf("signature does not verify: %v", err)
		}
	})

	t.Run("reused nonce is rejected with a ledger", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		f.handler.WithNonceLedger(nonce.NewLedger(f.db, time.Hour, nil).WithClock(func() time.Time { return f.now }))

		params := url.Values{"hwid": {"dev-A"}, "nonce": {"once"}}
		if rec := get(t, f.handler.Check, params); rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		expectError(t, get(t, f.handler.Check, params), http.StatusConflict, "Nonce already used")

		code := f.issue(t, 42, 30)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {code}, "nonce": {"once"}})
		expectError(t, rec, http.StatusConflict, "Nonce already used")
		if _, err := f.keys.Get(context.Background(), code); err != nil {
			t.Errorf("key must survive a replay rejection: %v", err)
		}
	})
}

func TestSealedResponses(t *testing.T) {
	key := testutil.RSAKey(t)

	t.Run("secretbox", func(t *testing.T) {
		sealer, err := signing.NewSecretboxSealer(boxKey)
		if err != nil {
			t.Fatalf("sealer: %v", err)
		}
		f := newFixture(t, signing.ModeSealed, sealer)
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {f.issue(t, 42, 30)}, "nonce": {"n-1"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		var sealed signing.Sealed
		if err := json.Unmarshal(rec.Body.Bytes(), &sealed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !sealed.Encrypted || sealed.Cipher != signing.CipherSecretbox {
			t.Fatalf("unexpected envelope %+v", sealed)
		}
		if strings.Contains(rec.Body.String(), "dev-A") {
			t.Error("sealed body leaks the hwid")
		}

		k, _ := signing.ParseBoxKey(boxKey)
		raw, err := signing.Open(&sealed, nil, &k)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var resp client.ActivateResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("unmarshal inner: %v", err)
		}
		if !resp.Success || resp.Signed == nil || resp.Nonce != "n-1" {
			t.Errorf("unexpected inner response %+v", resp)
		}
	})

	t.Run("rsa-private", func(t *testing.T) {
		f := newFixture(t, signing.ModeSealed, signing.NewRSASealer(key))
		rec := get(t, f.handler.Check, url.Values{"hwid": {"ghost"}, "nonce": {"n-1"}})

		var sealed signing.Sealed
		if err := json.Unmarshal(rec.Body.Bytes(), &sealed); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if sealed.Cipher != signing.CipherRSAPrivate {
			t.Fatalf("unexpected cipher %q", sealed.Cipher)
		}
		raw, err := signing.Open(&sealed, &key.PublicKey, nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !strings.Contains(string(raw), `"message":"HWID not found"`) {
			t.Errorf("unexpected inner payload %s", raw)
		}
	})

	t.Run("errors are not sealed", func(t *testing.T) {
		f := newFixture(t, signing.ModeSealed, signing.NewRSASealer(key))
		rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {"SENTINEL-NOPE"}, "nonce": {"n"}})
		expectError(t, rec, http.StatusNotFound, "Invalid subscription key")
	})
}

// failingSealer refuses every payload.
type failingSealer struct{}

func (failingSealer) Cipher() string { return "broken" }

func (failingSealer) Seal([]byte) (*signing.Sealed, error) {
	return nil, errors.New("seal failed")
}

func TestActivateSealFailureKeepsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, signing.ModeSealed, failingSealer{})
	code := f.issue(t, 42, 30)

	rec := post(t, f.handler.Activate, url.Values{"hwid": {"dev-A"}, "key": {code}, "nonce": {"n-1"}})
	expectError(t, rec, http.StatusInternalServerError, "Signing error")

	key, err := f.keys.Get(ctx, code)
	if err != nil {
		t.Fatalf("key must survive a failed response: %v", err)
	}
	if key.FirstActivatedAt != nil {
		t.Errorf("expected activation window not started, got %v", key.FirstActivatedAt)
	}
	if _, err := f.licenses.GetByHWID(ctx, "dev-A"); !errors.Is(err, license.ErrNotFound) {
		t.Errorf("expected no license, got err=%v", err)
	}
}

func TestPublicKey(t *testing.T) {
	t.Run("404 in plain mode", func(t *testing.T) {
		f := newFixture(t, signing.ModePlain, nil)
		rec := get(t, f.handler.PublicKey, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("serves PEM in signed mode", func(t *testing.T) {
		f := newFixture(t, signing.ModeSigned, nil)
		rec := get(t, f.handler.PublicKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		pub, err := signing.ParsePublicKey(rec.Body.Bytes())
		if err != nil {
			t.Fatalf("parse public key: %v", err)
		}
		if !pub.Equal(&testutil.RSAKey(t).PublicKey) {
			t.Error("served key does not match signing key")
		}
	})
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, signing.ModePlain, nil)
	e := echo.New()
	client.RegisterRoutes(e.Group("/api/v1"), f.handler, nil)

	code := f.issue(t, 42, 30)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activate?hwid=dev-A&key="+code, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET activate: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/check", strings.NewReader("hwid=dev-A"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST check: expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["valid"] != true {
		t.Errorf("expected valid license, got %v", body)
	}
}
