package storage

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrWrongPassword is returned when a sealed store is opened with a
// password other than the one it was created with.
var ErrWrongPassword = errors.New("wrong password")

const saltSize = 32

// metaKey holds the key derivation header. Values under it are never
// returned to callers.
var metaKey = []byte("\x00sealed/meta")

var checkValue = []byte("klingwallet sealed store v1")

// SealParams holds the Argon2id parameters of a sealed store.
type SealParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultSealParams returns recommended Argon2id parameters.
func DefaultSealParams() SealParams {
	return SealParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// SealedDB encrypts values with XChaCha20-Poly1305 under a key derived from
// a password with Argon2id. Keys are stored in the clear.
type SealedDB struct {
	inner DB
	aead  cipher.AEAD
}

// NewSealed opens the sealed store in inner, initialising it on first use.
// params only apply when the store is created; later opens read them from
// the stored header.
func NewSealed(inner DB, password []byte, params SealParams) (*SealedDB, error) {
	header, err := inner.Get(metaKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return createSealed(inner, password, params)
	case err != nil:
		return nil, &Error{Op: "open sealed", Err: err}
	}

	if len(header) < saltSize+9 {
		return nil, &Error{Op: "open sealed", Err: fmt.Errorf("header too short: %d bytes", len(header))}
	}
	salt := header[:saltSize]
	stored := SealParams{
		Memory:      binary.LittleEndian.Uint32(header[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[saltSize+4:]),
		Parallelism: header[saltSize+8],
	}
	s, err := newSealedDB(inner, password, salt, stored)
	if err != nil {
		return nil, err
	}
	check, err := s.open(metaKey, header[saltSize+9:])
	if err != nil || !bytes.Equal(check, checkValue) {
		return nil, ErrWrongPassword
	}
	return s, nil
}

func createSealed(inner DB, password []byte, params SealParams) (*SealedDB, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	s, err := newSealedDB(inner, password, salt, params)
	if err != nil {
		return nil, err
	}
	check, err := s.seal(metaKey, checkValue)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, saltSize+9+len(check))
	header = append(header, salt...)
	header = binary.LittleEndian.AppendUint32(header, params.Memory)
	header = binary.LittleEndian.AppendUint32(header, params.Iterations)
	header = append(header, params.Parallelism)
	header = append(header, check...)
	if err := inner.Put(metaKey, header); err != nil {
		return nil, &Error{Op: "create sealed", Err: err}
	}
	return s, nil
}

func newSealedDB(inner DB, password, salt []byte, params SealParams) (*SealedDB, error) {
	key := argon2.IDKey(password, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	clear(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &SealedDB{inner: inner, aead: aead}, nil
}

// seal encrypts value bound to key: nonce | ciphertext.
func (s *SealedDB) seal(key, value []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, value, key), nil
}

func (s *SealedDB) open(key, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed value too short: %d bytes", len(sealed))
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], key)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}

func isMeta(key []byte) bool {
	return bytes.Equal(key, metaKey)
}

// Get retrieves and decrypts a value.
func (s *SealedDB) Get(key []byte) ([]byte, error) {
	if isMeta(key) {
		return nil, ErrNotFound
	}
	raw, err := s.inner.Get(key)
	if err != nil {
		return nil, err
	}
	plain, err := s.open(key, raw)
	if err != nil {
		return nil, &Error{Op: "get", Key: string(key), Err: err}
	}
	return plain, nil
}

// Put encrypts and stores a value.
func (s *SealedDB) Put(key, value []byte) error {
	if isMeta(key) {
		return &Error{Op: "put", Key: string(key), Err: errors.New("reserved key")}
	}
	sealed, err := s.seal(key, value)
	if err != nil {
		return &Error{Op: "put", Key: string(key), Err: err}
	}
	return s.inner.Put(key, sealed)
}

// Delete removes a key.
func (s *SealedDB) Delete(key []byte) error {
	if isMeta(key) {
		return nil
	}
	return s.inner.Delete(key)
}

// Has checks if a key exists.
func (s *SealedDB) Has(key []byte) (bool, error) {
	if isMeta(key) {
		return false, nil
	}
	return s.inner.Has(key)
}

// ForEach iterates over decrypted values under prefix.
func (s *SealedDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return s.inner.ForEach(prefix, func(key, value []byte) error {
		if isMeta(key) {
			return nil
		}
		plain, err := s.open(key, value)
		if err != nil {
			return &Error{Op: "iterate", Key: string(key), Err: err}
		}
		return fn(key, plain)
	})
}

// NewBatch returns a batch that seals values before staging them in a
// batch of the inner database.
func (s *SealedDB) NewBatch() Batch {
	return &sealedBatch{db: s, inner: s.inner.NewBatch()}
}

type sealedBatch struct {
	db    *SealedDB
	inner Batch
}

func (b *sealedBatch) Put(key, value []byte) error {
	if isMeta(key) {
		return &Error{Op: "put", Key: string(key), Err: errors.New("reserved key")}
	}
	sealed, err := b.db.seal(key, value)
	if err != nil {
		return &Error{Op: "put", Key: string(key), Err: err}
	}
	return b.inner.Put(key, sealed)
}

func (b *sealedBatch) Delete(key []byte) error {
	if isMeta(key) {
		return nil
	}
	return b.inner.Delete(key)
}

func (b *sealedBatch) Commit() error {
	return b.inner.Commit()
}

func (b *sealedBatch) Discard() {
	b.inner.Discard()
}

// Close closes the inner database.
func (s *SealedDB) Close() error {
	return s.inner.Close()
}
