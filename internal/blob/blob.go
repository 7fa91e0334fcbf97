// Package blob is the object store gateway. It owns the tenant-scoped key
// convention for original uploads and generated Markdown.
package blob

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Store abstracts the object store.
type Store interface {
	// EnsureBucket creates the backing bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Unicode letters and digits stay; CJK filenames are common here.
var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._\-]+`)

// SafeFilename strips path separators and unsafe characters from a
// user-supplied filename. Empty results become "file".
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// DocumentKey returns the key for an original upload:
// tenant_{owner_id}/documents/{uuid}/{safe_filename}.
func DocumentKey(ownerID int64, filename string) string {
	return fmt.Sprintf("tenant_%d/documents/%s/%s", ownerID, uuid.NewString(), SafeFilename(filename))
}

// MarkdownKey returns the key for generated Markdown:
// tenant_{owner_id}/markdown/{document_id}.md.
func MarkdownKey(ownerID, documentID int64) string {
	return fmt.Sprintf("tenant_%d/markdown/%d.md", ownerID, documentID)
}

// TenantPrefix returns the key prefix holding everything a tenant owns.
func TenantPrefix(ownerID int64) string {
	return fmt.Sprintf("tenant_%d/", ownerID)
}
