// Package entries turns journal plaintext into encrypted entry records and
// back, borrowing tag keys from live sessions, and persists the records
// through pluggable repositories.
package entries

import (
	"sort"
	"time"
)

// EncryptionLevel names the scheme an entry was sealed with.
const EncryptionLevel = "aes-256-gcm+secretbox"

// Metadata holds non-confidential labels stored next to an entry in
// plaintext.
type Metadata map[string]string

// Entry is an encrypted journal entry. Content is sealed with a fresh
// per-entry key; that key is stored only wrapped under the tag key.
type Entry struct {
	ID              string    `json:"id"`
	TagID           string    `json:"tag_id"`
	Ciphertext      []byte    `json:"ciphertext"`
	Nonce           []byte    `json:"nonce"`
	WrappedKey      []byte    `json:"wrapped_key"`
	KeyNonce        []byte    `json:"key_nonce"`
	EncryptionLevel string    `json:"encryption_level"`
	Metadata        Metadata  `json:"metadata,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Header is the listing projection of an Entry.
type Header struct {
	ID              string
	TagID           string
	EncryptionLevel string
	Metadata        Metadata
	CreatedAt       time.Time
}

func (e *Entry) header() Header {
	return Header{ID: e.ID, TagID: e.TagID, EncryptionLevel: e.EncryptionLevel, Metadata: e.Metadata, CreatedAt: e.CreatedAt}
}

// EncryptionStatus tells presentation code what it can offer for an entry.
type EncryptionStatus struct {
	IsEncrypted      bool
	EncryptionLevel  string
	HasActiveSession bool
	CanDecrypt       bool
}

// aad binds ciphertext to its entry and tag.
func aad(entryID, tagID string) []byte {
	return []byte("entry:" + entryID + "\x00tag:" + tagID)
}

func sortEntries(list []*Entry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Metadata) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
