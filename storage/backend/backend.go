package backend

import (
	"context"
	"io"

	"github.com/crateloop/azstore/storage/common"
)

// Backend implements operations for storage.
type Backend interface {
	// Get writes downloaded content to the given writer.
	Get(ctx context.Context, p string, w io.Writer) error

	// Put uploads contents of the given reader.
	Put(ctx context.Context, p string, r io.Reader) error

	// Exists checks if object already exists.
	Exists(ctx context.Context, p string) (bool, error)

	// List contents of the given directory by given key from remote storage.
	List(ctx context.Context, p string) ([]common.FileEntry, error)
}
