package credstore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quizwell/authbridge/pkg/slogx"
	bolt "go.etcd.io/bbolt"
)

// Bolt persists the credential in a bbolt bucket named after the
// namespace. This is the default durable driver: a single file, no
// server, and every mutation lands in one write transaction.
//
// Get swallows backing-store failures by design: the Store contract says
// reads never fail, and "no credential" is always a safe answer. Failed
// mutations are logged and dropped; the next reconciliation rewrites the
// keys.
type Bolt struct {
	db    *bolt.DB
	log   *slog.Logger
	name  []byte
	owned bool
}

// OpenBolt opens (creating if needed) the bbolt file at path and prepares
// the namespace bucket. The returned store owns the database handle; call
// Close when done.
func OpenBolt(path, namespace string, log *slog.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("credstore: open bolt db: %w", err)
	}

	s, err := NewBolt(db, namespace, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewBolt wraps an existing bbolt handle. The caller keeps ownership of db.
func NewBolt(db *bolt.DB, namespace string, log *slog.Logger) (*Bolt, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	name := []byte(namespace)
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: create bucket %q: %w", namespace, err)
	}

	return &Bolt{
		db:   db,
		log:  slogx.Component(log, "credstore"),
		name: name,
	}, nil
}

// Close releases the database handle if this store opened it.
func (s *Bolt) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Bolt) Get() Credential {
	var cred Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.name)
		if b == nil {
			return nil
		}
		cred.BearerToken = string(b.Get([]byte(keyToken)))
		cred.RefreshToken = string(b.Get([]byte(keyRefresh)))
		cred.IsGuest = string(b.Get([]byte(keyIsGuest))) == "true"
		return nil
	})
	if err != nil {
		s.log.Warn("credential read failed, reporting no credential", "err", err)
		return Credential{}
	}
	return cred
}

func (s *Bolt) Set(bearerToken string, isGuest bool, refreshToken string) {
	cred := normalize(bearerToken, isGuest, refreshToken)
	if !cred.HasToken() {
		s.Clear()
		return
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.name)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(keyToken), []byte(cred.BearerToken)); err != nil {
			return err
		}
		guest := "false"
		if cred.IsGuest {
			guest = "true"
		}
		if err := b.Put([]byte(keyIsGuest), []byte(guest)); err != nil {
			return err
		}
		if cred.RefreshToken == "" {
			return b.Delete([]byte(keyRefresh))
		}
		return b.Put([]byte(keyRefresh), []byte(cred.RefreshToken))
	})
	if err != nil {
		s.log.Error("credential write failed", "err", err)
	}
}

func (s *Bolt) Clear() {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.name)
		if b == nil {
			return nil
		}
		for _, k := range []string{keyToken, keyIsGuest, keyRefresh} {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("credential clear failed", "err", err)
	}
}
