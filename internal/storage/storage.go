package storage

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

type PutOptions struct {
	ContentType string
	// Metadata is stored with the object as user metadata.
	Metadata map[string]string
}

// ObjectStore is where session exports are written.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Ping(ctx context.Context) error
}
