package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// KeySource fetches the provider's webhook signing key as PEM.
type KeySource interface {
	PublicKey(ctx context.Context) ([]byte, error)
}

// WebhookVerifier checks X-Sign headers: base64 ECDSA P-256 ASN.1 signatures
// over SHA-256 of the raw body. The key is cached and refetched once when a
// signature fails against it, which covers provider key rotation.
type WebhookVerifier struct {
	source KeySource
	logger *zap.Logger

	mu  sync.Mutex
	key *ecdsa.PublicKey
}

func NewWebhookVerifier(source KeySource, logger *zap.Logger) *WebhookVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookVerifier{source: source, logger: logger}
}

func (v *WebhookVerifier) Verify(ctx context.Context, body []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) == 0 {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256(body)

	key, cached, err := v.currentKey(ctx)
	if err != nil {
		return err
	}
	if ecdsa.VerifyASN1(key, digest[:], sig) {
		return nil
	}
	if !cached {
		return ErrInvalidSignature
	}

	v.logger.Info("webhook signature mismatch, refetching provider key")
	key, err = v.refresh(ctx)
	if err != nil {
		return err
	}
	if ecdsa.VerifyASN1(key, digest[:], sig) {
		return nil
	}
	return ErrInvalidSignature
}

func (v *WebhookVerifier) currentKey(ctx context.Context) (*ecdsa.PublicKey, bool, error) {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()
	if key != nil {
		return key, true, nil
	}
	key, err := v.refresh(ctx)
	return key, false, err
}

func (v *WebhookVerifier) refresh(ctx context.Context) (*ecdsa.PublicKey, error) {
	raw, err := v.source.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch webhook key: %w", err)
	}
	key, err := ParseECDSAPublicKey(raw)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	return key, nil
}

// ParseECDSAPublicKey decodes a PEM PKIX ECDSA public key.
func ParseECDSAPublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("webhook key: no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("webhook key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("webhook key: not an ECDSA key")
	}
	return key, nil
}
