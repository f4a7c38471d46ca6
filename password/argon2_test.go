package password

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T, p Params) *Hasher {
	t.Helper()

	h, err := NewHasher(p)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, testParams())

	encoded, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := h.Verify("correct horse battery", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("Verify rejected the right password")
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("Verify accepted the wrong password")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t, testParams())

	a, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t, testParams())
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected a short password to be rejected")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testParams())

	cases := []string{
		"",
		"not a hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$!!!",
	}
	for _, encoded := range cases {
		if _, err := h.Verify("whatever password", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q) = %v, want ErrMalformedHash", encoded, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, testParams())
	encoded, err := weak.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	ok, err := weak.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash failed: %v", err)
	}
	if ok {
		t.Fatal("a hash at current parameters must not need a rehash")
	}

	stronger := testParams()
	stronger.Memory = 16 * 1024
	strong := newTestHasher(t, stronger)
	ok, err = strong.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash failed: %v", err)
	}
	if !ok {
		t.Fatal("a weaker hash should need a rehash")
	}

	// The stronger hasher can still verify the old hash.
	match, err := strong.Verify("correct horse battery", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !match {
		t.Fatal("old hashes must remain verifiable")
	}
}

func TestNewHasherValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"low memory", func(p *Params) { p.Memory = 1024 }},
		{"zero time", func(p *Params) { p.Time = 0 }},
		{"zero parallelism", func(p *Params) { p.Parallelism = 0 }},
		{"short salt", func(p *Params) { p.SaltLength = 4 }},
		{"short key", func(p *Params) { p.KeyLength = 8 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			if _, err := NewHasher(p); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
