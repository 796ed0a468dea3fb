package security

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("unit-secret"))
	token, exp, err := Generate(opts, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expireAt in the past: %v", exp)
	}
	uid, err := Verify(opts, token)
	if err != nil {
		t.Fatal(err)
	}
	if uid != 42 {
		t.Fatalf("uid = %d, want 42", uid)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("secret-a")), 7)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions([]byte("secret-b")), token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	opts := DefaultOptions([]byte("unit-secret"))
	token, _, err := Generate(opts, 7)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token parts = %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := Verify(opts, tampered); err == nil {
		t.Fatal("tampered signature accepted")
	}
}
