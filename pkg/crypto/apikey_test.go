package crypto

import (
	"strings"
	"testing"
)

func TestGenerateAPIKeyIsPrefixedAndUnique(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(a, APIKeyPrefix) || len(a) != len(APIKeyPrefix)+48 {
		t.Fatalf("unexpected key format %q", a)
	}
	if a == b {
		t.Fatal("expected distinct keys")
	}
}

func TestHashAPIKeyIsStableAndTrimmed(t *testing.T) {
	digest := HashAPIKey("tk_secret")
	if len(digest) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", digest)
	}
	if HashAPIKey("  tk_secret\n") != digest {
		t.Fatal("expected surrounding whitespace to be ignored")
	}
	if HashAPIKey("tk_other") == digest {
		t.Fatal("expected different keys to hash differently")
	}
	if !DigestEqual(digest, HashAPIKey("tk_secret")) || DigestEqual(digest, HashAPIKey("tk_other")) {
		t.Fatal("unexpected digest comparison result")
	}
}
