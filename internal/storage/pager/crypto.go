package pager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/SimonWaldherr/sharc/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Page transform: AES-256-GCM over a SQLCipher-style private header
// ───────────────────────────────────────────────────────────────────────────
//
// Encrypted files begin with a 128-byte header; each logical page then
// occupies inner_page_size + EncryptionOverhead bytes on disk: a
// deterministic 12-byte nonce, the ciphertext, and a 16-byte GCM tag.
// The nonce is HMAC-SHA256(master_key, BE32(page_number))[:12]; the AAD
// is BE32(page_number), binding ciphertext to its page so swapping two
// pages' blocks fails authentication rather than silently reading the
// wrong page.

const (
	EncryptionHeaderSize = 128
	EncryptionOverhead   = 28 // 12-byte nonce + 16-byte GCM tag
	masterKeySize        = 32
	rowSubkeySize        = 32
)

var encryptionMagic = [6]byte{'S', 'H', 'A', 'R', 'C', 0}

// KDF algorithm identifiers stored in the encryption header.
const (
	KDFPBKDF2SHA512 = 0
	KDFArgon2id     = 1 // reserved; not implemented
)

// Cipher algorithm identifiers stored in the encryption header.
const (
	CipherAES256GCM = 0
)

// verificationConstant is the fixed plaintext the header's verification
// HMAC is computed over; it never changes across databases.
var verificationConstant = []byte("SHARC-key-verification-v1")

// PageTransform seals and opens individual pages with a master key held
// only in process memory. Zero disposes of it.
type PageTransform struct {
	masterKey [masterKeySize]byte
	gcm       cipher.AEAD
}

func newTransformFromKey(key [masterKeySize]byte) (*PageTransform, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, &CryptoError{Reason: err.Error()}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return nil, &CryptoError{Reason: err.Error()}
	}
	return &PageTransform{masterKey: key, gcm: gcm}, nil
}

// Zero destroys the in-memory master key. The transform must not be
// used afterward.
func (t *PageTransform) Zero() {
	for i := range t.masterKey {
		t.masterKey[i] = 0
	}
}

func kdfIterations(timeCost int) int {
	if timeCost <= 0 {
		timeCost = 1
	}
	return 100000 * timeCost
}

func deriveMasterKey(password []byte, salt []byte, timeCost int) [masterKeySize]byte {
	derived := pbkdf2.Key(password, salt, kdfIterations(timeCost), masterKeySize, sha512.New)
	var key [masterKeySize]byte
	copy(key[:], derived)
	return key
}

func verificationHMAC(key [masterKeySize]byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(verificationConstant)
	return mac.Sum(nil)
}

// NewPageTransformForCreate derives a fresh master key from password and
// returns the transform along with the 128-byte header to write at the
// start of a new encrypted database file.
func NewPageTransformForCreate(password []byte, innerPageSize, timeCost, memKiB, parallelism int) (*PageTransform, []byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, &IoError{Op: "generate salt", Reason: err}
	}
	key := deriveMasterKey(password, salt, timeCost)
	t, err := newTransformFromKey(key)
	if err != nil {
		return nil, nil, err
	}

	buf := make([]byte, EncryptionHeaderSize)
	copy(buf[0:6], encryptionMagic[:])
	buf[6] = 1 // version
	buf[7] = KDFPBKDF2SHA512
	buf[8] = CipherAES256GCM
	binary.BigEndian.PutUint32(buf[12:16], uint32(timeCost))
	binary.BigEndian.PutUint32(buf[16:20], uint32(memKiB))
	binary.BigEndian.PutUint32(buf[20:24], uint32(parallelism))
	copy(buf[24:56], salt)
	copy(buf[56:88], verificationHMAC(key))
	binary.BigEndian.PutUint32(buf[88:92], uint32(innerPageSize))
	binary.BigEndian.PutUint32(buf[92:96], 1) // inner page count at creation

	return t, buf, nil
}

// OpenPageTransform parses a 128-byte encryption header and derives the
// master key from password. A header that advertises a key derivation
// function or cipher this package does not implement fails with
// UnsupportedFeatureError; a derived key whose verification HMAC does
// not match fails with CryptoError.
func OpenPageTransform(header []byte, password []byte) (*PageTransform, int, error) {
	if len(header) < EncryptionHeaderSize {
		return nil, 0, &CryptoError{Reason: "truncated encryption header"}
	}
	if string(header[0:6]) != string(encryptionMagic[:]) {
		return nil, 0, &CryptoError{Reason: "encryption magic mismatch"}
	}
	kdfAlg := header[7]
	cipherAlg := header[8]
	if kdfAlg != KDFPBKDF2SHA512 {
		return nil, 0, &UnsupportedFeatureError{Feature: "key derivation function"}
	}
	if cipherAlg != CipherAES256GCM {
		return nil, 0, &UnsupportedFeatureError{Feature: "page cipher"}
	}

	timeCost := int(binary.BigEndian.Uint32(header[12:16]))
	salt := append([]byte(nil), header[24:56]...)
	wantHMAC := header[56:88]
	innerPageSize := int(binary.BigEndian.Uint32(header[88:92]))

	key := deriveMasterKey(password, salt, timeCost)
	if !hmac.Equal(verificationHMAC(key), wantHMAC) {
		return nil, 0, &CryptoError{Reason: "bad password"}
	}

	t, err := newTransformFromKey(key)
	if err != nil {
		return nil, 0, err
	}
	return t, innerPageSize, nil
}

func pageNonce(key [masterKeySize]byte, pageNumber uint32) []byte {
	mac := hmac.New(sha256.New, key[:])
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], pageNumber)
	mac.Write(be[:])
	return mac.Sum(nil)[:12]
}

func pageAAD(pageNumber uint32) []byte {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], pageNumber)
	return be[:]
}

// Seal encrypts plain (exactly the inner page size) into dst (which
// must be len(plain)+EncryptionOverhead bytes): nonce || ciphertext ||
// tag.
func (t *PageTransform) Seal(dst, plain []byte, pageNumber uint32) error {
	if len(dst) != len(plain)+EncryptionOverhead {
		return &CryptoError{Reason: "destination buffer has wrong size for sealed page"}
	}
	nonce := pageNonce(t.masterKey, pageNumber)
	copy(dst[:12], nonce)
	t.gcm.Seal(dst[12:12], nonce, plain, pageAAD(pageNumber))
	return nil
}

// Open verifies and decrypts cipher (nonce || ciphertext || tag) into
// dst (exactly the inner page size). Fails with CryptoError on tag
// mismatch — including ciphertext tampering, a wrong key, or a block
// whose embedded page number (via AAD) does not match pageNumber.
func (t *PageTransform) Open(dst, cipherBuf []byte, pageNumber uint32) error {
	if len(cipherBuf) < EncryptionOverhead {
		return &CryptoError{Reason: "ciphertext shorter than transform overhead"}
	}
	nonce := cipherBuf[:12]
	body := cipherBuf[12:]
	// dst has exactly the capacity of one decrypted page, so Open fills
	// it in place rather than allocating.
	plain, err := t.gcm.Open(dst[:0], nonce, body, pageAAD(pageNumber))
	if err != nil {
		return &CryptoError{Reason: "authentication failed: " + err.Error()}
	}
	if len(plain) != len(dst) {
		copy(dst, plain)
	}
	return nil
}

// NewEntitlementTag mints a fresh row-grouping identifier for
// DeriveRowKey. Tags are random v4 UUIDs so that two rows written
// under the same entitlement can be recognized as sharing a subkey
// without either row's key derivation leaking to the other.
func NewEntitlementTag() string {
	return uuid.New().String()
}

// DeriveRowKey derives a per-entitlement row subkey:
// HKDF-SHA256(master_key, salt=entitlement_tag, info="SHARC_ROW_v1", 32).
// Equal (master key, tag) pairs always yield equal subkeys. The tag is
// canonicalized through its raw 16-byte form first, so "equal" means
// equal as a UUID, not equal as a string: differing case or an
// optional urn:uuid: prefix must not change the derived subkey.
func DeriveRowKey(masterKey [masterKeySize]byte, entitlementTag string) ([rowSubkeySize]byte, error) {
	var out [rowSubkeySize]byte
	id, err := storage.ParseUUID(entitlementTag)
	if err != nil {
		return out, &CryptoError{Reason: "entitlement tag is not a UUID: " + err.Error()}
	}
	r := hkdf.New(sha256.New, masterKey[:], storage.UUIDToBytes(id), []byte("SHARC_ROW_v1"))
	if _, err := r.Read(out[:]); err != nil {
		return out, &CryptoError{Reason: "row key derivation failed: " + err.Error()}
	}
	return out, nil
}
