package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/config"
)

func TestParseID(t *testing.T) {
	if id, err := parseID("42", "board"); err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "seven"} {
		if _, err := parseID(bad, "board"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.SharedSecret = "s3cret"
	a := &app{cfg: cfg}

	cmd := a.tokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	v, _ := auth.NewHS256Verifier([]byte("s3cret"))
	user, err := v.UserID(strings.TrimSpace(out.String()))
	if err != nil || user != "alice" {
		t.Fatalf("minted token did not verify: %q %v", user, err)
	}
}

func TestVerifierRequiresSecretOrJWKS(t *testing.T) {
	a := &app{cfg: config.Default()}
	if _, err := a.verifier(); err == nil {
		t.Fatalf("expected error without secret or jwks")
	}
	a.cfg.Hub.SharedSecret = "x"
	if _, err := a.verifier(); err != nil {
		t.Fatalf("verifier: %v", err)
	}
}
