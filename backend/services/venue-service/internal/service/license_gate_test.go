package service

import (
	"crypto/ed25519"
	"testing"
	"time"

	"cuehall/backend/libs/license"
)

func TestLicenseGateStatus(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	signer := license.NewSignerFromKey(priv)
	now := time.Now()
	valid, _, err := signer.Issue("pos-1", "pro", "order-1", 30, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _, err := signer.Issue("pos-1", "pro", "order-2", 1, now.AddDate(0, 0, -2))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verifier := license.NewVerifierFromKey(pub)

	cases := []struct {
		name      string
		verifier  *license.Verifier
		token     string
		machineID string
		valid     bool
		reason    string
	}{
		{name: "valid", verifier: verifier, token: valid, machineID: "pos-1", valid: true},
		{name: "any machine", verifier: verifier, token: valid, valid: true},
		{name: "other machine", verifier: verifier, token: valid, machineID: "pos-2", reason: "issued for another machine"},
		{name: "expired", verifier: verifier, token: expired, reason: "expired"},
		{name: "garbage", verifier: verifier, token: "abc", reason: "malformed token"},
		{name: "no token", verifier: verifier, reason: "no license installed"},
		{name: "no key", token: valid, reason: "no public key configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := NewLicenseGate(tc.verifier, tc.token, tc.machineID, nil).Status()
			if st.Valid != tc.valid || st.Reason != tc.reason {
				t.Fatalf("unexpected status %+v", st)
			}
			if tc.valid && (st.Tier != "pro" || st.ExpiresAt == nil) {
				t.Fatalf("valid status must carry tier and expiry: %+v", st)
			}
		})
	}
}
