// Package signing makes license responses verifiable offline. Responses are
// signed over a canonical string with an RSA key and may additionally be
// sealed into an opaque envelope.
package signing

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode selects how responses are protected.
type Mode string

const (
	ModePlain  Mode = "plain"
	ModeSigned Mode = "signed"
	ModeSealed Mode = "sealed"
)

var ErrMode = errors.New("unknown response mode")

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePlain, ModeSigned, ModeSealed:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrMode, s)
}

// Signed carries the signature fields added to a signed response.
type Signed struct {
	Expiry    string `json:"expiry"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type Authenticator struct {
	mode   Mode
	signer *Signer
	sealer Sealer
	now    func() time.Time
}

// NewAuthenticator validates that the keys required by mode are present.
// signer may be nil only in plain mode, sealer only outside sealed mode.
func NewAuthenticator(mode Mode, signer *Signer, sealer Sealer) (*Authenticator, error) {
	if mode != ModePlain && signer == nil {
		return nil, fmt.Errorf("%s mode requires a signing key", mode)
	}
	if mode == ModeSealed && sealer == nil {
		return nil, fmt.Errorf("sealed mode requires a sealer")
	}
	return &Authenticator{mode: mode, signer: signer, sealer: sealer, now: time.Now}, nil
}

func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

func (a *Authenticator) Mode() Mode { return a.mode }

// RequiresNonce reports whether clients must send a nonce.
func (a *Authenticator) RequiresNonce() bool { return a.mode != ModePlain }

// PublicKey returns the verification key, or nil in plain mode.
func (a *Authenticator) PublicKey() *rsa.PublicKey {
	if a.signer == nil {
		return nil
	}
	return a.signer.PublicKey()
}

// Authenticate stamps the current time on the fields and signs them.
func (a *Authenticator) Authenticate(hwid string, expiry time.Time, valid bool, nonce string) (*Signed, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("authenticate: no signing key")
	}
	f := Fields{
		HWID:      hwid,
		Expiry:    expiry,
		Valid:     valid,
		Nonce:     nonce,
		Timestamp: a.now().Unix(),
	}
	sig, err := a.signer.Sign(f)
	if err != nil {
		return nil, err
	}
	return &Signed{
		Expiry:    FormatExpiry(expiry),
		Nonce:     nonce,
		Timestamp: f.Timestamp,
		Signature: sig,
	}, nil
}

// Seal marshals payload to JSON and seals it.
func (a *Authenticator) Seal(payload any) (*Sealed, error) {
	if a.sealer == nil {
		return nil, fmt.Errorf("seal: no sealer configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("seal: marshal payload: %w", err)
	}
	return a.sealer.Seal(raw)
}
