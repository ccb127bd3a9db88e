package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrAssetNotFound is returned when no asset exists for a key
var ErrAssetNotFound = errors.New("asset not found")

// Key identifies a stored export file
type Key struct {
	// Type groups assets of one kind, e.g. "contact_export"
	Type      string
	ID        string
	Extension string
}

// Filename returns the base name of the asset
func (k Key) Filename() string {
	if k.Extension == "" {
		return k.ID
	}
	return k.ID + "." + k.Extension
}

// Path returns the slash separated location of the asset
func (k Key) Path() string {
	return path.Join(k.Type, k.Filename())
}

// Validate rejects keys that would escape their type directory
func (k Key) Validate() error {
	for _, part := range []string{k.Type, k.ID, k.Extension} {
		if strings.ContainsAny(part, `/\`) || part == ".." {
			return fmt.Errorf("invalid asset key %q", k.Path())
		}
	}
	if k.Type == "" || k.ID == "" {
		return fmt.Errorf("asset key needs a type and an id")
	}
	return nil
}

// Store saves finished exports and hands out links to them
type Store interface {
	// Save stores the content of r under key, replacing any previous asset
	Save(ctx context.Context, key Key, r io.Reader) error
	// Open streams a stored asset
	Open(ctx context.Context, key Key) (io.ReadCloser, error)
	// URL returns a link the asset can be downloaded from
	URL(ctx context.Context, key Key) (string, error)
	// Delete removes an asset; deleting a missing asset is not an error
	Delete(ctx context.Context, key Key) error
}
