package vault

import (
	"context"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	v, err := New("test-passphrase", salt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	v := testVault(t)

	ciphertext, err := v.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ciphertext) == "sk-super-secret" {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "sk-super-secret" {
		t.Errorf("got %q, want sk-super-secret", got)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	t.Parallel()
	v1 := testVault(t)
	v2 := testVault(t) // different salt -> different key

	ciphertext, err := v1.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := v2.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decrypt with the wrong key to fail")
	}
}

func TestDecryptTooShort(t *testing.T) {
	t.Parallel()
	v := testVault(t)
	if _, err := v.Decrypt([]byte("x")); err != ErrCiphertextTooShort {
		t.Fatalf("err = %v, want ErrCiphertextTooShort", err)
	}
}

type fakeSecretStore struct {
	values map[string]string
}

func (s *fakeSecretStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *fakeSecretStore) Set(_ context.Context, name, value string) error {
	s.values[name] = value
	return nil
}

func TestGetNamedPrefersOSStore(t *testing.T) {
	t.Parallel()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	os := &fakeSecretStore{values: map[string]string{"k1": "from-os"}}
	v, err := NewWithSecretStore("pass", salt, os)
	if err != nil {
		t.Fatalf("NewWithSecretStore: %v", err)
	}

	got, err := v.GetNamed(context.Background(), "k1", nil)
	if err != nil {
		t.Fatalf("GetNamed: %v", err)
	}
	if got != "from-os" {
		t.Errorf("got %q, want from-os", got)
	}
}

func TestGetNamedFallsBackToCiphertext(t *testing.T) {
	t.Parallel()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	os := &fakeSecretStore{values: map[string]string{}}
	v, err := NewWithSecretStore("pass", salt, os)
	if err != nil {
		t.Fatalf("NewWithSecretStore: %v", err)
	}

	enc, err := v.Encrypt("fallback-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := v.GetNamed(context.Background(), "missing-key", enc)
	if err != nil {
		t.Fatalf("GetNamed: %v", err)
	}
	if got != "fallback-secret" {
		t.Errorf("got %q, want fallback-secret", got)
	}
}
