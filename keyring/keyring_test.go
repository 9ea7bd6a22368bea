package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

// useLocal points the package at an encrypted store in dir.
func useLocal(t *testing.T, dir string) {
	t.Helper()
	initOnce.Do(func() {})
	useLocalStorage = true
	initLocalStorage(dir)
}

func TestLocalStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	useLocal(t, dir)

	if err := StoreCredentials("profile-1", "alice", "hunter2"); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ".credentials"))
	if err != nil {
		t.Fatalf("reading store: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Error("credential file contains the plaintext password")
	}

	// A fresh load decrypts what was written.
	initLocalStorage(dir)
	user, pass, err := GetCredentials("profile-1")
	if err != nil {
		t.Fatalf("GetCredentials() error = %v", err)
	}
	if user != "alice" || pass != "hunter2" {
		t.Errorf("GetCredentials() = %q, %q, want %q, %q", user, pass, "alice", "hunter2")
	}

	if err := Delete("profile-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if Exists("profile-1") {
		t.Error("credential still exists after Delete()")
	}
}

func TestLocalStore_TamperedFileIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".credentials"), []byte("bm90IGVuY3J5cHRlZA=="), 0600); err != nil {
		t.Fatal(err)
	}
	useLocal(t, dir)

	if _, err := Get("anything"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrNotFound)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	useLocal(t, t.TempDir())

	a, err := encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	b, _ := encrypt([]byte("secret"))
	if string(a) == string(b) {
		t.Error("two encryptions produced the same ciphertext")
	}

	got, err := decrypt(a)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("decrypt() = %q, want %q", got, "secret")
	}

	if _, err := decrypt([]byte("AAAA")); err == nil {
		t.Error("decrypt() accepted a truncated ciphertext")
	}
}

func TestSystemKeyring(t *testing.T) {
	keyring.MockInit()
	initOnce.Do(func() {})
	useLocalStorage = false

	if err := StoreCredentials("profile-2", "bob", "pa ss"); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}
	user, pass, err := GetCredentials("profile-2")
	if err != nil {
		t.Fatalf("GetCredentials() error = %v", err)
	}
	if user != "bob" || pass != "pa ss" {
		t.Errorf("GetCredentials() = %q, %q", user, pass)
	}
	if err := Delete("profile-2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := Get("profile-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrNotFound)
	}
}

func TestValidation(t *testing.T) {
	if err := Store("", "x"); err == nil {
		t.Error("Store() accepted an empty profile ID")
	}
	if err := Store("id", ""); err == nil {
		t.Error("Store() accepted an empty password")
	}
	if _, err := Get(""); err == nil {
		t.Error("Get() accepted an empty profile ID")
	}
}
