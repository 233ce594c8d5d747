package pthash

import "testing"

func TestHashersDeterministicAndSeedSensitive(t *testing.T) {
	key := []byte("some key material")
	for _, h := range []Hasher{NewXXH3Hasher(), NewMurmur3Hasher(), NewXXH3Hasher64()} {
		a := h.Hash(key, 1)
		b := h.Hash(key, 1)
		if a != b {
			t.Fatalf("%s: hash is not deterministic", h.ID())
		}
		c := h.Hash(key, 2)
		if a == c {
			t.Fatalf("%s: seed does not affect the hash", h.ID())
		}
		d := h.Hash([]byte("other key material"), 1)
		if a == d {
			t.Fatalf("%s: distinct keys hash equal", h.ID())
		}
	}
}

func TestHasherByID(t *testing.T) {
	for _, id := range []HasherID{HasherXXH3, HasherMurmur3, HasherXXH3_64} {
		h, ok := hasherByID(id)
		if !ok {
			t.Fatalf("hasher %d not found", id)
		}
		if h.ID() != id {
			t.Fatalf("hasher reports id %d, want %d", h.ID(), id)
		}
	}
	if _, ok := hasherByID(HasherID(99)); ok {
		t.Fatal("unknown hasher id should not resolve")
	}
}

func TestBuildWithEachHasher(t *testing.T) {
	keys := testKeys(1000)
	for _, h := range []Hasher{NewXXH3Hasher(), NewMurmur3Hasher(), NewXXH3Hasher64()} {
		cfg := NewBuildConfig()
		cfg.Seed = 31
		cfg.Hasher = h
		f, _, err := Build(keys, cfg)
		if err != nil {
			t.Fatalf("%s: %v", h.ID(), err)
		}
		assertMinimalBijection(t, keys, f)
	}
}
