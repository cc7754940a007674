package pager

import (
	"bytes"
	"strings"
	"testing"
)

func TestPageTransformSealOpenRoundTrip(t *testing.T) {
	tr, header, err := NewPageTransformForCreate([]byte("correct horse"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	if len(header) != EncryptionHeaderSize {
		t.Fatalf("header size = %d, want %d", len(header), EncryptionHeaderSize)
	}

	plain := bytes.Repeat([]byte{0x42}, 4096)
	sealed := make([]byte, len(plain)+EncryptionOverhead)
	if err := tr.Seal(sealed, plain, 7); err != nil {
		t.Fatalf("seal: %v", err)
	}

	opened := make([]byte, len(plain))
	if err := tr.Open(opened, sealed, 7); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatal("round trip did not reproduce plaintext")
	}
}

func TestOpenPageTransformWrongPassword(t *testing.T) {
	_, header, err := NewPageTransformForCreate([]byte("right"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	_, _, err = OpenPageTransform(header, []byte("wrong"))
	if err == nil {
		t.Fatal("expected error opening with the wrong password")
	}
	if _, ok := err.(*CryptoError); !ok {
		t.Fatalf("expected *CryptoError, got %T", err)
	}
}

func TestOpenPageTransformCorrectPassword(t *testing.T) {
	tr1, header, err := NewPageTransformForCreate([]byte("hunter2"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	tr2, innerPageSize, err := OpenPageTransform(header, []byte("hunter2"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if innerPageSize != 4096 {
		t.Fatalf("innerPageSize = %d, want 4096", innerPageSize)
	}

	plain := bytes.Repeat([]byte{0x01}, 4096)
	sealed := make([]byte, len(plain)+EncryptionOverhead)
	if err := tr1.Seal(sealed, plain, 3); err != nil {
		t.Fatalf("seal with tr1: %v", err)
	}
	opened := make([]byte, len(plain))
	if err := tr2.Open(opened, sealed, 3); err != nil {
		t.Fatalf("open with tr2: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatal("cross-instance round trip mismatch")
	}
}

func TestSealBoundToPageNumber(t *testing.T) {
	// Swapping the sealed bytes of one page onto another page number must
	// fail authentication: the AAD binds ciphertext to its page.
	tr, _, err := NewPageTransformForCreate([]byte("pw"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	plainA := bytes.Repeat([]byte{0xAA}, 4096)
	sealedA := make([]byte, len(plainA)+EncryptionOverhead)
	if err := tr.Seal(sealedA, plainA, 5); err != nil {
		t.Fatalf("seal page 5: %v", err)
	}

	dst := make([]byte, len(plainA))
	if err := tr.Open(dst, sealedA, 6); err == nil {
		t.Fatal("expected CryptoError opening page 5's ciphertext as page 6")
	}
}

func TestOpenPageTransformUnsupportedKDF(t *testing.T) {
	_, header, err := NewPageTransformForCreate([]byte("pw"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	header[7] = KDFArgon2id
	_, _, err = OpenPageTransform(header, []byte("pw"))
	if err == nil {
		t.Fatal("expected UnsupportedFeatureError for Argon2id header")
	}
	if _, ok := err.(*UnsupportedFeatureError); !ok {
		t.Fatalf("expected *UnsupportedFeatureError, got %T", err)
	}
}

func TestOpenPageTransformUnsupportedCipher(t *testing.T) {
	_, header, err := NewPageTransformForCreate([]byte("pw"), 4096, 1, 0, 0)
	if err != nil {
		t.Fatalf("create transform: %v", err)
	}
	header[8] = CipherAES256GCM + 1
	_, _, err = OpenPageTransform(header, []byte("pw"))
	if err == nil {
		t.Fatal("expected UnsupportedFeatureError for an unknown cipher id")
	}
	if _, ok := err.(*UnsupportedFeatureError); !ok {
		t.Fatalf("expected *UnsupportedFeatureError, got %T", err)
	}
}

func TestDeriveRowKeyDeterministic(t *testing.T) {
	var master [32]byte
	for i := range master {
		master[i] = byte(i)
	}
	tag := NewEntitlementTag()

	k1, err := DeriveRowKey(master, tag)
	if err != nil {
		t.Fatalf("derive 1: %v", err)
	}
	k2, err := DeriveRowKey(master, tag)
	if err != nil {
		t.Fatalf("derive 2: %v", err)
	}
	if k1 != k2 {
		t.Fatal("DeriveRowKey is not deterministic for equal (master, tag) pairs")
	}

	other, err := DeriveRowKey(master, NewEntitlementTag())
	if err != nil {
		t.Fatalf("derive 3: %v", err)
	}
	if other == k1 {
		t.Fatal("distinct entitlement tags produced the same subkey")
	}
}

func TestDeriveRowKeyCanonicalizesTagCase(t *testing.T) {
	var master [32]byte
	for i := range master {
		master[i] = byte(i)
	}
	tag := NewEntitlementTag()
	upper, err := DeriveRowKey(master, strings.ToUpper(tag))
	if err != nil {
		t.Fatalf("derive upper: %v", err)
	}
	lower, err := DeriveRowKey(master, strings.ToLower(tag))
	if err != nil {
		t.Fatalf("derive lower: %v", err)
	}
	if upper != lower {
		t.Fatal("DeriveRowKey must treat a UUID tag the same regardless of case")
	}
}

func TestDeriveRowKeyRejectsNonUUIDTag(t *testing.T) {
	var master [32]byte
	if _, err := DeriveRowKey(master, "not-a-uuid"); err == nil {
		t.Fatal("expected an error deriving a row key from a malformed entitlement tag")
	}
}

func TestNewEntitlementTagUnique(t *testing.T) {
	a := NewEntitlementTag()
	b := NewEntitlementTag()
	if a == b {
		t.Fatal("two calls to NewEntitlementTag produced the same tag")
	}
}
