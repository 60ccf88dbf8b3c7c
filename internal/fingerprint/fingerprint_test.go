package fingerprint

import "testing"

func TestHash_deterministic(t *testing.T) {
	h1 := Hash("Physical AI combines robotics and machine learning.")
	h2 := Hash("Physical AI combines robotics and machine learning.")
	if h1 != h2 {
		t.Errorf("same content should give same hash: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestHash_differentContent(t *testing.T) {
	if Hash("alpha") == Hash("beta") {
		t.Error("different content should give different hashes")
	}
}

func TestHash_whitespaceSensitive(t *testing.T) {
	// No normalization: formatting differences are distinct content.
	if Hash("a b") == Hash("a  b") {
		t.Error("whitespace differences should produce different hashes")
	}
	if Hash("a\n") == Hash("a") {
		t.Error("trailing newline should produce a different hash")
	}
}

func TestHash_empty(t *testing.T) {
	// SHA-256 of the empty string.
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Hash(""); got != want {
		t.Errorf("Hash(\"\")=%q, want %q", got, want)
	}
}

func TestHash_unicode(t *testing.T) {
	h1 := Hash("検索エンジン")
	h2 := Hash("検索エンジン")
	if h1 != h2 {
		t.Error("unicode content should hash deterministically")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}
