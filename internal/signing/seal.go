package signing

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher names as they appear in sealed responses.
const (
	CipherRSAPrivate = "rsa-private"
	CipherSecretbox  = "secretbox"
)

const (
	maxRSAChunk = 200
	boxKeySize  = 32
	boxNonce    = 24
)

var (
	ErrUnknownCipher = errors.New("unknown seal cipher")
	ErrSealedData    = errors.New("malformed sealed data")
	ErrBoxKey        = errors.New("secretbox key must be 64 hex characters")
)

// Sealed is the envelope returned in sealed response mode.
type Sealed struct {
	Encrypted bool   `json:"encrypted"`
	Cipher    string `json:"cipher"`
	Data      string `json:"data"`
}

type Sealer interface {
	Cipher() string
	Seal(payload []byte) (*Sealed, error)
}

// RSASealer applies the RSA private key to the payload in PKCS#1 v1.5
// type 1 blocks. Anyone holding the public key can open the result, so it
// proves origin but does not hide the payload.
type RSASealer struct {
	key *rsa.PrivateKey
}

func NewRSASealer(key *rsa.PrivateKey) *RSASealer {
	return &RSASealer{key: key}
}

func (s *RSASealer) Cipher() string { return CipherRSAPrivate }

func (s *RSASealer) Seal(payload []byte) (*Sealed, error) {
	chunk := rsaChunkSize(s.key.Size())
	if chunk <= 0 {
		return nil, fmt.Errorf("seal: rsa key too small")
	}

	var out bytes.Buffer
	for start := 0; start < len(payload); start += chunk {
		end := min(start+chunk, len(payload))
		// hash 0 signs the bytes as given, which is raw private-key
		// encryption with type 1 padding
		block, err := rsa.SignPKCS1v15(nil, s.key, crypto.Hash(0), payload[start:end])
		if err != nil {
			return nil, fmt.Errorf("seal chunk: %w", err)
		}
		out.Write(block)
	}

	return &Sealed{
		Encrypted: true,
		Cipher:    CipherRSAPrivate,
		Data:      base64.StdEncoding.EncodeToString(out.Bytes()),
	}, nil
}

func rsaChunkSize(keySize int) int {
	return min(maxRSAChunk, keySize-11)
}

// OpenRSA reverses RSASealer.Seal with the public key.
func OpenRSA(pub *rsa.PublicKey, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedData, err)
	}
	k := pub.Size()
	if len(raw) == 0 || len(raw)%k != 0 {
		return nil, ErrSealedData
	}

	e := big.NewInt(int64(pub.E))
	var out bytes.Buffer
	for off := 0; off < len(raw); off += k {
		c := new(big.Int).SetBytes(raw[off : off+k])
		if c.Cmp(pub.N) >= 0 {
			return nil, ErrSealedData
		}
		em := new(big.Int).Exp(c, e, pub.N).FillBytes(make([]byte, k))
		msg, err := unpadType1(em)
		if err != nil {
			return nil, err
		}
		out.Write(msg)
	}
	return out.Bytes(), nil
}

// unpadType1 strips 0x00 0x01 0xFF... 0x00 from a decrypted block.
func unpadType1(em []byte) ([]byte, error) {
	if len(em) < 11 || em[0] != 0x00 || em[1] != 0x01 {
		return nil, ErrSealedData
	}
	i := 2
	for i < len(em) && em[i] == 0xFF {
		i++
	}
	if i-2 < 8 || i >= len(em) || em[i] != 0x00 {
		return nil, ErrSealedData
	}
	return em[i+1:], nil
}

// SecretboxSealer encrypts with NaCl secretbox under a shared key. The random
// 24 byte nonce is prepended to the box.
type SecretboxSealer struct {
	key [boxKeySize]byte
}

func NewSecretboxSealer(hexKey string) (*SecretboxSealer, error) {
	key, err := ParseBoxKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &SecretboxSealer{key: key}, nil
}

// ParseBoxKey decodes a 32 byte secretbox key from hex.
func ParseBoxKey(hexKey string) ([boxKeySize]byte, error) {
	var key [boxKeySize]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != boxKeySize {
		return key, ErrBoxKey
	}
	copy(key[:], raw)
	return key, nil
}

func (s *SecretboxSealer) Cipher() string { return CipherSecretbox }

func (s *SecretboxSealer) Seal(payload []byte) (*Sealed, error) {
	var nonce [boxNonce]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], payload, &nonce, &s.key)
	return &Sealed{
		Encrypted: true,
		Cipher:    CipherSecretbox,
		Data:      base64.StdEncoding.EncodeToString(box),
	}, nil
}

// OpenSecretbox reverses SecretboxSealer.Seal.
func OpenSecretbox(key [boxKeySize]byte, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedData, err)
	}
	if len(raw) < boxNonce+secretbox.Overhead {
		return nil, ErrSealedData
	}
	var nonce [boxNonce]byte
	copy(nonce[:], raw[:boxNonce])
	out, ok := secretbox.Open(nil, raw[boxNonce:], &nonce, &key)
	if !ok {
		return nil, ErrSealedData
	}
	return out, nil
}

// Open unseals an envelope with whichever key matches its cipher.
func Open(s *Sealed, pub *rsa.PublicKey, boxKey *[boxKeySize]byte) ([]byte, error) {
	switch s.Cipher {
	case CipherRSAPrivate:
		if pub == nil {
			return nil, fmt.Errorf("open %s: no public key", s.Cipher)
		}
		return OpenRSA(pub, s.Data)
	case CipherSecretbox:
		if boxKey == nil {
			return nil, fmt.Errorf("open %s: no shared key", s.Cipher)
		}
		return OpenSecretbox(*boxKey, s.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, s.Cipher)
}
