package service

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"cuehall/backend/libs/license"
)

// LicenseStatus describes the venue license as last verified.
type LicenseStatus struct {
	Valid     bool       `json:"valid"`
	Tier      string     `json:"tier,omitempty"`
	MachineID string     `json:"machine_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// LicenseGate checks the configured venue license token.
type LicenseGate struct {
	verifier  *license.Verifier
	token     string
	machineID string
	logger    *zap.Logger
}

// NewLicenseGate builds the gate. A nil verifier reports every token as unverifiable.
func NewLicenseGate(verifier *license.Verifier, token, machineID string, logger *zap.Logger) *LicenseGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LicenseGate{
		verifier:  verifier,
		token:     strings.TrimSpace(token),
		machineID: strings.TrimSpace(machineID),
		logger:    logger,
	}
}

// Status verifies the token now.
func (g *LicenseGate) Status() LicenseStatus {
	switch {
	case g.token == "":
		return LicenseStatus{Reason: "no license installed"}
	case g.verifier == nil:
		return LicenseStatus{Reason: "no public key configured"}
	}

	var (
		payload license.Payload
		err     error
	)
	if g.machineID != "" {
		payload, err = g.verifier.VerifyFor(g.token, g.machineID)
	} else {
		payload, err = g.verifier.Verify(g.token)
	}

	status := LicenseStatus{Tier: payload.Tier, MachineID: payload.MachineID}
	if payload.ExpiresAt > 0 {
		exp := payload.Expiry()
		status.ExpiresAt = &exp
	}
	if err != nil {
		status.Reason = reason(err)
		return status
	}
	status.Valid = true
	return status
}

// LogStatus reports the license state at startup.
func (g *LicenseGate) LogStatus() {
	st := g.Status()
	if st.Valid {
		g.logger.Info("license valid", zap.String("tier", st.Tier), zap.Timep("expires_at", st.ExpiresAt))
		return
	}
	g.logger.Warn("license not valid", zap.String("reason", st.Reason))
}

func reason(err error) string {
	switch {
	case errors.Is(err, license.ErrExpired):
		return "expired"
	case errors.Is(err, license.ErrMachineMismatch):
		return "issued for another machine"
	case errors.Is(err, license.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, license.ErrInvalidAlgorithm):
		return "unsupported algorithm"
	default:
		return "malformed token"
	}
}
