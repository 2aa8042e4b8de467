package entries

import "context"

// Repository persists encrypted entries. Implementations never see
// plaintext or key material. Get and Delete return common.ErrNotFound for
// unknown ids.
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	ListByTag(ctx context.Context, tagID string) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
}
