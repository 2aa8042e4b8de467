// Package phrase holds the activation registry of secret tags and the
// matcher that finds activation phrases in transcribed speech.
package phrase

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/cryptox"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
	"github.com/dmitrijs2005/gophjournal/internal/session"
	"github.com/google/uuid"
)

const (
	minPhraseLen = 3
	maxPhraseLen = 100
)

var stoplist = map[string]struct{}{
	"the": {}, "and": {}, "yes": {}, "no": {}, "okay": {}, "ok": {},
	"hello": {}, "hi": {}, "hey": {}, "open": {}, "unlock": {}, "start": {},
	"stop": {}, "test": {}, "password": {}, "journal": {}, "please": {},
	"thanks": {}, "thank you": {}, "good morning": {}, "good night": {},
}

// TagRegistration is what the tag-creation flow submits.
type TagRegistration struct {
	ID     string
	Name   string
	Color  string
	Level  session.SecurityLevel
	Phrase string
}

// Tag is the non-secret metadata of a registered secret tag.
type Tag struct {
	ID    string
	Name  string
	Color string
	Level session.SecurityLevel
}

type entry struct {
	tag      Tag
	phrase   string
	salt     []byte
	verifier []byte
}

// Registry maps tag ids to activation phrases. Only a salt and a verifier of
// the derived key are kept; the key itself is recomputed on every
// Authenticate call.
type Registry struct {
	mu     sync.RWMutex
	tags   map[string]*entry
	params cryptox.KDFParams
	logger logging.Logger
}

func NewRegistry(params cryptox.KDFParams, logger logging.Logger) *Registry {
	return &Registry{tags: make(map[string]*entry), params: params, logger: logger}
}

// Register validates reg and adds it to the registry. An empty ID is replaced
// by a generated one.
func (r *Registry) Register(reg TagRegistration) (Tag, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return Tag{}, fmt.Errorf("%w: tag name is empty", common.ErrInvalidPhrase)
	}
	norm, err := validate(reg.Phrase)
	if err != nil {
		return Tag{}, err
	}

	id := reg.ID
	if id == "" {
		id = uuid.NewString()
	}

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	key := cryptox.DeriveKey([]byte(norm), salt, r.params)
	verifier := cryptox.MakeVerifier(key)
	common.WipeByteArray(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tags[id]; ok {
		return Tag{}, fmt.Errorf("%w: tag %s is already registered", common.ErrInvalidPhrase, id)
	}
	for _, e := range r.tags {
		if strings.EqualFold(e.tag.Name, name) {
			return Tag{}, fmt.Errorf("%w: a tag named %q already exists", common.ErrInvalidPhrase, e.tag.Name)
		}
		if e.phrase == norm {
			return Tag{}, fmt.Errorf("%w: phrase is already used by another tag", common.ErrInvalidPhrase)
		}
	}

	t := Tag{ID: id, Name: name, Color: reg.Color, Level: reg.Level}
	r.tags[id] = &entry{tag: t, phrase: norm, salt: salt, verifier: verifier}

	r.logger.Info(context.Background(), "tag registered", "tag_id", id, "security_level", t.Level.String())
	return t, nil
}

// Remove drops tagID from the registry.
func (r *Registry) Remove(tagID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tags[tagID]; !ok {
		return fmt.Errorf("remove tag %s: %w", tagID, common.ErrNotFound)
	}
	delete(r.tags, tagID)
	return nil
}

// Lookup returns the metadata of tagID.
func (r *Registry) Lookup(tagID string) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tags[tagID]
	if !ok {
		return Tag{}, false
	}
	return e.tag, true
}

// Tags lists registered tags ordered by name.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tag, 0, len(r.tags))
	for _, e := range r.tags {
		out = append(out, e.tag)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Phrases returns the snapshot the matcher works on.
func (r *Registry) Phrases() []Phrase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Phrase, 0, len(r.tags))
	for _, e := range r.tags {
		out = append(out, Phrase{TagID: e.tag.ID, TagName: e.tag.Name, Phrase: e.phrase})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Authenticate derives the key of tagID from proof and checks it against the
// stored verifier. Unknown tags and wrong phrases both cost one derivation
// and both return common.ErrInvalidProof.
func (r *Registry) Authenticate(ctx context.Context, tagID string, proof []byte) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	r.mu.RLock()
	e, ok := r.tags[tagID]
	var (
		salt, verifier []byte
		name           string
	)
	if ok {
		salt, verifier, name = e.salt, e.verifier, e.tag.Name
	}
	r.mu.RUnlock()

	if !ok {
		salt = common.GenerateRandByteArray(cryptox.SaltSize)
		verifier = make([]byte, len(cryptox.MakeVerifier(nil)))
	}

	norm := []byte(Normalize(string(proof)))
	key := cryptox.DeriveKey(norm, salt, r.params)
	common.WipeByteArray(norm)

	if subtle.ConstantTimeCompare(cryptox.MakeVerifier(key), verifier) != 1 || !ok {
		common.WipeByteArray(key)
		return "", nil, common.ErrInvalidProof
	}
	return name, key, nil
}

func validate(phrase string) (string, error) {
	trimmed := strings.TrimSpace(phrase)
	n := utf8.RuneCountInString(trimmed)
	if n < minPhraseLen {
		return "", fmt.Errorf("%w: must be at least %d characters", common.ErrInvalidPhrase, minPhraseLen)
	}
	if n > maxPhraseLen {
		return "", fmt.Errorf("%w: must be at most %d characters", common.ErrInvalidPhrase, maxPhraseLen)
	}

	norm := Normalize(trimmed)
	if utf8.RuneCountInString(norm) < minPhraseLen {
		return "", fmt.Errorf("%w: must contain at least %d letters or digits", common.ErrInvalidPhrase, minPhraseLen)
	}
	if _, ok := stoplist[norm]; ok {
		return "", fmt.Errorf("%w: %q is too common", common.ErrInvalidPhrase, norm)
	}
	return norm, nil
}
