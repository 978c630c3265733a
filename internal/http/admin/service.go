package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"winsbygroup.com/hwidserver/internal/audit"
	"winsbygroup.com/hwidserver/internal/backup"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/pending"
	"winsbygroup.com/hwidserver/internal/subscription"
)

var (
	ErrTarget      = errors.New("exactly one of userId and hwid is required")
	ErrNoBackup    = errors.New("backups are not configured")
	ErrUnknownKind = errors.New("unknown pending action")
)

type Service struct {
	keys     *subscription.Service
	licenses *license.Service
	audit    *audit.Service
	pending  *pending.Store
	backup   *backup.Service
}

// NewService wires the admin operations. backup may be nil when the
// database cannot be dumped.
func NewService(
	keys *subscription.Service,
	licenses *license.Service,
	a *audit.Service,
	p *pending.Store,
	b *backup.Service,
) *Service {
	return &Service{
		keys:     keys,
		licenses: licenses,
		audit:    a,
		pending:  p,
		backup:   b,
	}
}

// -------------------------
// Keys
// -------------------------

func (s *Service) IssueKeys(ctx context.Context, actor int64, req *IssueKeysRequest) ([]subscription.Key, error) {
	count := req.Count
	if count == 0 {
		count = 1
	}
	keys, err := s.keys.Issue(ctx, req.OwnerUserID, req.Days, count)
	if len(keys) > 0 {
		s.audit.Log(ctx, actor, audit.ActionKeysIssued, audit.TargetUser, userTarget(req.OwnerUserID),
			fmt.Sprintf("count=%d days=%d", len(keys), req.Days))
	}
	return keys, err
}

// ListKeys lists every outstanding key, or only owner's when owner > 0.
func (s *Service) ListKeys(ctx context.Context, owner int64) ([]subscription.Key, error) {
	if owner > 0 {
		return s.keys.ListForOwner(ctx, owner)
	}
	return s.keys.List(ctx)
}

func (s *Service) DeleteKey(ctx context.Context, actor int64, code string) error {
	if err := s.keys.Delete(ctx, code); err != nil {
		return err
	}
	s.audit.Log(ctx, actor, audit.ActionKeyDeleted, audit.TargetKey, code, "")
	return nil
}

func (s *Service) ExtendKey(ctx context.Context, actor int64, code string, days int) (*subscription.Key, error) {
	k, err := s.keys.Extend(ctx, code, days)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, actor, audit.ActionKeyExtended, audit.TargetKey, code, fmt.Sprintf("days=%d", days))
	return k, nil
}

// -------------------------
// Licenses
// -------------------------

// ListLicenses filters by status ("expired", "banned") or by a hwid fragment.
func (s *Service) ListLicenses(ctx context.Context, status, query string) ([]license.License, error) {
	switch {
	case status == "expired":
		return s.licenses.GetExpired(ctx)
	case status == "banned":
		return s.licenses.GetBanned(ctx)
	case query != "":
		return s.licenses.Search(ctx, query)
	}
	return s.licenses.List(ctx)
}

func (s *Service) UserLicenses(ctx context.Context, userID int64) ([]license.License, error) {
	return s.licenses.GetForUser(ctx, userID)
}

// SetBanned bans or unbans the target's licenses and returns how many changed.
func (s *Service) SetBanned(ctx context.Context, actor int64, t *TargetRequest, banned bool) (int64, error) {
	if err := checkTarget(t); err != nil {
		return 0, err
	}

	var (
		n   int64
		err error
	)
	switch {
	case t.HWID != "" && banned:
		n, err = s.licenses.BanHWID(ctx, t.HWID)
	case t.HWID != "":
		n, err = s.licenses.UnbanHWID(ctx, t.HWID)
	case banned:
		n, err = s.licenses.BanUser(ctx, t.UserID)
	default:
		n, err = s.licenses.UnbanUser(ctx, t.UserID)
	}
	if err != nil {
		return 0, err
	}

	action := audit.ActionUnbanned
	if banned {
		action = audit.ActionBanned
	}
	typ, id := target(t)
	s.audit.Log(ctx, actor, action, typ, id, fmt.Sprintf("affected=%d", n))
	return n, nil
}

// AddDays extends the target's licenses.
func (s *Service) AddDays(ctx context.Context, actor int64, t *TargetRequest) (int64, error) {
	if err := checkTarget(t); err != nil {
		return 0, err
	}

	var (
		n   int64
		err error
	)
	if t.HWID != "" {
		n, err = s.licenses.AddDaysForHWID(ctx, t.HWID, t.Days)
	} else {
		n, err = s.licenses.AddDaysForUser(ctx, t.UserID, t.Days)
	}
	if err != nil {
		return 0, err
	}

	typ, id := target(t)
	s.audit.Log(ctx, actor, audit.ActionDaysAdded, typ, id, fmt.Sprintf("days=%d affected=%d", t.Days, n))
	return n, nil
}

func checkTarget(t *TargetRequest) error {
	if (t.UserID > 0) == (t.HWID != "") {
		return ErrTarget
	}
	return nil
}

func target(t *TargetRequest) (string, string) {
	if t.HWID != "" {
		return audit.TargetHWID, t.HWID
	}
	return audit.TargetUser, userTarget(t.UserID)
}

func userTarget(id int64) string {
	return strconv.FormatInt(id, 10)
}

// -------------------------
// Staged (two-step) actions
// -------------------------

// StageResetHWID stages deletion of the license bound to hwid.
func (s *Service) StageResetHWID(ctx context.Context, actor int64, hwid string) (pending.Action, error) {
	if _, err := s.licenses.GetByHWID(ctx, hwid); err != nil {
		return pending.Action{}, err
	}
	return s.pending.Put(actor, pending.Action{Kind: pending.KindResetHWID, HWID: hwid}), nil
}

// StageDeleteUserKeys stages deletion of every outstanding key of userID.
func (s *Service) StageDeleteUserKeys(_ context.Context, actor int64, userID int64) (pending.Action, error) {
	if userID <= 0 {
		return pending.Action{}, subscription.ErrInvalidOwner
	}
	return s.pending.Put(actor, pending.Action{Kind: pending.KindDeleteUserKeys, UserID: userID}), nil
}

// StageAddDaysAll stages extending every license by days.
func (s *Service) StageAddDaysAll(_ context.Context, actor int64, days int) (pending.Action, error) {
	if days <= 0 {
		return pending.Action{}, license.ErrInvalidDays
	}
	return s.pending.Put(actor, pending.Action{Kind: pending.KindAddDaysAll, Days: days}), nil
}

func (s *Service) Pending(actor int64) (pending.Action, bool) {
	return s.pending.Get(actor)
}

func (s *Service) CancelPending(actor int64) bool {
	return s.pending.Clear(actor)
}

// ConfirmPending runs the action staged by actor.
func (s *Service) ConfirmPending(ctx context.Context, actor int64, token string) (*ConfirmResponse, error) {
	a, err := s.pending.Take(actor, token)
	if err != nil {
		return nil, err
	}

	var n int64
	switch a.Kind {
	case pending.KindResetHWID:
		if err := s.licenses.Reset(ctx, a.HWID); err != nil {
			return nil, err
		}
		n = 1
		s.audit.Log(ctx, actor, audit.ActionLicenseReset, audit.TargetHWID, a.HWID, "")

	case pending.KindDeleteUserKeys:
		n, err = s.keys.DeleteAllForOwner(ctx, a.UserID)
		if err != nil {
			return nil, err
		}
		s.audit.Log(ctx, actor, audit.ActionKeysPurged, audit.TargetUser, userTarget(a.UserID), fmt.Sprintf("affected=%d", n))

	case pending.KindAddDaysAll:
		n, err = s.licenses.AddDaysAll(ctx, a.Days)
		if err != nil {
			return nil, err
		}
		s.audit.Log(ctx, actor, audit.ActionDaysAddedAll, audit.TargetAll, "", fmt.Sprintf("days=%d affected=%d", a.Days, n))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind)
	}

	return &ConfirmResponse{Action: a, Affected: n}, nil
}

// -------------------------
// Reporting
// -------------------------

func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	ls, err := s.licenses.Stats(ctx)
	if err != nil {
		return nil, err
	}
	ks, err := s.keys.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResponse{Licenses: *ls, Keys: *ks}, nil
}

// AuditLog lists recent events, only actor's when actor > 0.
func (s *Service) AuditLog(ctx context.Context, actor int64, limit int) ([]audit.Event, error) {
	if actor > 0 {
		return s.audit.ListForActor(ctx, actor, limit)
	}
	return s.audit.List(ctx, limit)
}

// -------------------------
// Backup
// -------------------------

func (s *Service) Backup(ctx context.Context, actor int64) (*backup.BackupResult, error) {
	if s.backup == nil {
		return nil, ErrNoBackup
	}
	res, err := s.backup.CreateBackup(ctx)
	if err != nil {
		return nil, err
	}
	details := res.Path
	if res.Location != "" {
		details = res.Location
	}
	s.audit.Log(ctx, actor, audit.ActionBackupCreated, audit.TargetBackup, res.Filename, details)
	return res, nil
}
