// Package license issues and checks signed venue licenses.
//
// A token is base64url(JSON payload) + "." + base64url(Ed25519 signature over the JSON bytes).
package license

import (
	"crypto"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed        = errors.New("license: malformed token")
	ErrInvalidSignature = errors.New("license: invalid signature")
	ErrInvalidAlgorithm = errors.New("license: unsupported key algorithm")
	ErrExpired          = errors.New("license: expired")
	ErrMachineMismatch  = errors.New("license: machine id mismatch")
)

var encoding = base64.RawURLEncoding

// Payload is the signed part of a license.
type Payload struct {
	MachineID string `json:"mid"`
	Tier      string `json:"tier"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Subject   string `json:"sub"`
}

// Expiry returns the expiry instant.
func (p Payload) Expiry() time.Time {
	return time.Unix(p.ExpiresAt, 0).UTC()
}

// Signer produces license tokens with an Ed25519 private key.
type Signer struct {
	key crypto.Signer
}

// NewSigner parses a PEM encoded PKCS#8 Ed25519 private key.
func NewSigner(pemKey []byte) (*Signer, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("license: parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidAlgorithm
	}
	return &Signer{key: priv}, nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(key ed25519.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Issue builds a payload valid for days starting at now and signs it.
func (s *Signer) Issue(machineID, tier, subject string, days int, now time.Time) (string, Payload, error) {
	if strings.TrimSpace(machineID) == "" {
		return "", Payload{}, errors.New("license: machine id required")
	}
	if days <= 0 {
		return "", Payload{}, errors.New("license: days must be positive")
	}
	payload := Payload{
		MachineID: machineID,
		Tier:      tier,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour).Unix(),
		Subject:   subject,
	}
	token, err := s.Sign(payload)
	return token, payload, err
}

// Sign serialises payload and signs the JSON bytes.
func (s *Signer) Sign(payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sig, err := jwt.SigningMethodEdDSA.Sign(string(body), s.key)
	if err != nil {
		return "", fmt.Errorf("license: sign: %w", err)
	}
	return encoding.EncodeToString(body) + "." + encoding.EncodeToString(sig), nil
}

// Verifier checks tokens against a fixed Ed25519 public key.
type Verifier struct {
	key ed25519.PublicKey
	now func() time.Time
}

// NewVerifier parses a PEM encoded PKIX Ed25519 public key.
func NewVerifier(pemKey []byte) (*Verifier, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("license: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidAlgorithm
	}
	return NewVerifierFromKey(pub), nil
}

// NewVerifierFromKey wraps an already parsed key.
func NewVerifierFromKey(key ed25519.PublicKey) *Verifier {
	return &Verifier{key: key, now: time.Now}
}

// WithClock overrides the time source used for expiry checks.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify validates shape, signature and expiry and returns the payload.
func (v *Verifier) Verify(token string) (Payload, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Payload{}, ErrMalformed
	}
	body, err := encoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, ErrMalformed
	}
	sig, err := encoding.DecodeString(parts[1])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Payload{}, ErrMalformed
	}
	if len(v.key) != ed25519.PublicKeySize {
		return Payload{}, ErrInvalidAlgorithm
	}
	if err := jwt.SigningMethodEdDSA.Verify(string(body), sig, v.key); err != nil {
		return Payload{}, ErrInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, ErrMalformed
	}
	if payload.MachineID == "" || payload.ExpiresAt == 0 {
		return Payload{}, ErrMalformed
	}
	if !v.now().Before(payload.Expiry()) {
		return payload, ErrExpired
	}
	return payload, nil
}

// VerifyFor additionally checks that the license was issued for machineID.
func (v *Verifier) VerifyFor(token, machineID string) (Payload, error) {
	payload, err := v.Verify(token)
	if err != nil {
		return payload, err
	}
	if payload.MachineID != machineID {
		return payload, ErrMachineMismatch
	}
	return payload, nil
}
