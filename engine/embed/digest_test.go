package embed

import "testing"

func TestTextDigestIsDeterministicAndDistinguishesContent(t *testing.T) {
	a1 := TextDigest("deep learning")
	a2 := TextDigest("deep learning")
	b := TextDigest("machine learning")

	if a1 != a2 {
		t.Errorf("expected identical text to produce identical digests, got %q and %q", a1, a2)
	}
	if a1 == b {
		t.Errorf("expected different text to produce different digests")
	}
	if len(a1) != 32 { // 16 bytes hex-encoded
		t.Errorf("expected a 128-bit digest (32 hex chars), got %d chars", len(a1))
	}
}

func TestCacheKeyStringDistinguishesProviderModelAndText(t *testing.T) {
	k1 := Key("openai", "v1", "hello")
	k2 := Key("openai", "v2", "hello")
	k3 := Key("anthropic", "v1", "hello")

	if k1.String() == k2.String() {
		t.Errorf("expected different model ids to yield different cache keys")
	}
	if k1.String() == k3.String() {
		t.Errorf("expected different provider ids to yield different cache keys")
	}
	if Key("openai", "v1", "hello").String() != k1.String() {
		t.Errorf("expected identical (provider, model, text) to yield identical cache keys")
	}
}
