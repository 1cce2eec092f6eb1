// Package artifact persists trained model blobs by path. Backends return
// an error wrapping domain.ErrModelNotFound when nothing has been saved yet.
package artifact

import "context"

// Store saves and loads opaque artifacts. Save overwrites; there is no
// versioning or rollback.
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
}
