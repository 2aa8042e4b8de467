package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/cryptox"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
	"github.com/google/uuid"
)

// KeyProvider lends tag keys for the duration of a call. session.Manager
// implements it.
type KeyProvider interface {
	WithKey(tagID string, fn func(key []byte) error) error
	IsActive(tagID string) (live, unlocked bool)
}

// Manager creates and decrypts entries. It never keeps a tag key past the
// call that borrowed it, and wipes every per-entry key it handles.
type Manager struct {
	keys   KeyProvider
	repo   Repository
	logger logging.Logger
	now    func() time.Time
}

func NewManager(keys KeyProvider, repo Repository, logger logging.Logger) *Manager {
	return &Manager{keys: keys, repo: repo, logger: logger, now: time.Now}
}

// Create seals plaintext for tagID under a fresh per-entry key, wraps that
// key under the tag key and saves the result.
func (m *Manager) Create(ctx context.Context, tagID string, plaintext []byte, meta Metadata) (*Entry, error) {
	e := &Entry{
		ID:              uuid.NewString(),
		TagID:           tagID,
		EncryptionLevel: EncryptionLevel,
		Metadata:        meta.clone(),
		CreatedAt:       m.now().UTC(),
	}

	dek := cryptox.NewDataKey()
	defer common.WipeByteArray(dek)

	err := m.keys.WithKey(tagID, func(key []byte) error {
		var err error
		e.WrappedKey, e.KeyNonce, err = cryptox.WrapKey(key, dek)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create entry for %s: %w", tagID, err)
	}

	e.Ciphertext, e.Nonce, err = cryptox.Seal(dek, plaintext, aad(e.ID, tagID))
	if err != nil {
		return nil, fmt.Errorf("create entry for %s: %w", tagID, err)
	}

	if err := m.repo.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("save entry %s: %w", e.ID, err)
	}

	m.logger.Info(ctx, "entry created", "tag_id", tagID, "entry_id", e.ID)
	return e, nil
}

// Decrypt returns the plaintext of entryID using tagID's session.
//
// A missing, locked or expired session yields common.ErrNoActiveSession
// before the entry is read. Any cryptographic failure, whether a wrong key,
// a tampered record or an entry bound to another tag, yields a bare
// common.ErrIntegrityFailure after the same amount of work.
func (m *Manager) Decrypt(ctx context.Context, entryID, tagID string) ([]byte, error) {
	if live, unlocked := m.keys.IsActive(tagID); !live || !unlocked {
		return nil, fmt.Errorf("decrypt entry %s: %w", entryID, common.ErrNoActiveSession)
	}

	e, err := m.repo.Get(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("decrypt entry %s: %w", entryID, err)
	}

	var dek []byte
	err = m.keys.WithKey(tagID, func(key []byte) error {
		var uerr error
		dek, uerr = cryptox.UnwrapKey(key, e.WrappedKey, e.KeyNonce)
		return uerr
	})
	if errors.Is(err, common.ErrNoActiveSession) {
		return nil, fmt.Errorf("decrypt entry %s: %w", entryID, err)
	}

	failed := err != nil
	if failed {
		dek = cryptox.NewDataKey()
	}
	defer common.WipeByteArray(dek)

	plaintext, err := cryptox.Open(dek, e.Ciphertext, e.Nonce, aad(e.ID, tagID))
	if failed || err != nil {
		m.logger.Warn(ctx, "entry integrity check failed", "tag_id", tagID, "entry_id", entryID)
		return nil, common.ErrIntegrityFailure
	}
	return plaintext, nil
}

// Status reports what can be done with e right now. It reads live session
// state on every call.
func (m *Manager) Status(e *Entry) EncryptionStatus {
	encrypted := len(e.Ciphertext) > 0 && len(e.WrappedKey) > 0
	live, unlocked := m.keys.IsActive(e.TagID)
	return EncryptionStatus{
		IsEncrypted:      encrypted,
		EncryptionLevel:  e.EncryptionLevel,
		HasActiveSession: live,
		CanDecrypt:       encrypted && live && unlocked,
	}
}

// Get returns the stored record of entryID without decrypting it.
func (m *Manager) Get(ctx context.Context, entryID string) (*Entry, error) {
	return m.repo.Get(ctx, entryID)
}

// List returns the headers of tagID's entries, oldest first. Headers carry
// no ciphertext, so no session is needed.
func (m *Manager) List(ctx context.Context, tagID string) ([]Header, error) {
	list, err := m.repo.ListByTag(ctx, tagID)
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", tagID, err)
	}
	out := make([]Header, 0, len(list))
	for _, e := range list {
		out = append(out, e.header())
	}
	return out, nil
}

func (m *Manager) Delete(ctx context.Context, entryID string) error {
	if err := m.repo.Delete(ctx, entryID); err != nil {
		return fmt.Errorf("delete entry %s: %w", entryID, err)
	}
	m.logger.Info(ctx, "entry deleted", "entry_id", entryID)
	return nil
}
