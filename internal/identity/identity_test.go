package identity

import (
	"regexp"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestEnsureCreatesOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := NewStore(dir, "pw", nil)
	first, err := s.Ensure()
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.SecretKey == "" || first.PublicKey == "" || first.DisplayName == "" {
		t.Fatalf("incomplete identity: %+v", first)
	}
	pk, err := nostr.GetPublicKey(first.SecretKey)
	if err != nil || pk != first.PublicKey {
		t.Fatalf("public key does not match secret key")
	}

	// A second store over the same directory must not regenerate.
	again, err := NewStore(dir, "pw", nil).Ensure()
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.SecretKey != first.SecretKey || again.DisplayName != first.DisplayName {
		t.Fatalf("identity regenerated: %+v vs %+v", again, first)
	}
}

func TestEnsureWrongPassphraseFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := NewStore(dir, "right", nil).Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := NewStore(dir, "wrong", nil).Ensure(); err == nil {
		t.Fatalf("wrong passphrase must not silently regenerate the identity")
	}
}

func TestRandomDisplayNameShape(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{2}$`)
	for i := 0; i < 50; i++ {
		name := RandomDisplayName()
		if !re.MatchString(name) {
			t.Fatalf("unexpected name shape: %q", name)
		}
	}
}
