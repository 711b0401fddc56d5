// Package storage provides the object storage abstraction the archive is
// written through. The local filesystem backend is the default; S3 (or any
// S3-compatible endpoint) is available for off-host archives.
package storage

import (
	"context"
	"errors"
)

// Errors returned by every backend. Backend failures wrap one of them.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrListFailed     = errors.New("list failed")
)

// ObjectStorage is where archived day files and summary artifacts live.
// Object paths always use forward slashes, e.g. "2025/events-2025-08-01.jsonl".
type ObjectStorage interface {
	// Put writes data to objectPath. A reader never observes a partially
	// written object: the object is either absent, the previous version, or
	// the complete new content.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the full content of an object, or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether objectPath holds an object.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns every object path starting with prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
