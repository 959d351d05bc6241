package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltDirPerm is the permission mode for the credential database directory.
	boltDirPerm = fs.FileMode(0o700)

	// boltFilePerm is the permission mode for the credential database file.
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

var (
	credentialsBucket = []byte("credentials")
	metaBucket        = []byte("meta")
	saltKey           = []byte("kdf_salt")
)

// BoltBackend persists credentials in a bbolt database with all values
// encrypted at rest. The key derivation salt lives in a meta bucket next
// to the data, so the database is self-contained: only the passphrase is
// supplied externally.
//
// bbolt's single-writer transactions make every Put atomic with respect
// to concurrent readers.
type BoltBackend struct {
	db     *bolt.DB
	cipher *Cipher
}

// NewBoltBackend opens (or creates) the database at path and derives the
// value encryption key from passphrase. Opening an existing database with
// the wrong passphrase does not fail here; it fails on the first Get when
// decryption is attempted.
func NewBoltBackend(path, passphrase string) (*BoltBackend, error) {
	if passphrase == "" {
		return nil, errors.New("credstore: bolt backend requires a passphrase")
	}

	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential database: %w", err)
	}

	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	cipher, err := NewCipher(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, cipher: cipher}, nil
}

// loadOrCreateSalt returns the stored key derivation salt, generating and
// persisting one on first open.
func loadOrCreateSalt(db *bolt.DB) ([]byte, error) {
	var salt []byte
	err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}

		if existing := meta.Get(saltKey); existing != nil {
			salt = make([]byte, len(existing))
			copy(salt, existing)
			return nil
		}

		fresh, err := GenerateSalt()
		if err != nil {
			return err
		}
		if err := meta.Put(saltKey, fresh); err != nil {
			return err
		}
		salt = fresh
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing credential database: %w", err)
	}
	return salt, nil
}

// Get implements Backend.
func (b *BoltBackend) Get(key string) ([]byte, bool, error) {
	var sealed []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		sealed = make([]byte, len(v))
		copy(sealed, v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if sealed == nil {
		return nil, false, nil
	}

	plaintext, err := b.cipher.Open(sealed)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// Put implements Backend.
func (b *BoltBackend) Put(key string, value []byte) error {
	sealed, err := b.cipher.Seal(value)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(key), sealed)
	})
}

// Delete implements Backend.
func (b *BoltBackend) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(key))
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
