package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// IBlobBackend is the object store seen by the sync engine and the event
// dispatcher. All keys are full object keys including the configured prefix.
type IBlobBackend interface {
	// GetObject retrieves an object by key. Missing keys fail with ErrObjectNotFound.
	GetObject(ctx context.Context, key string) (*GetObjectResponse, error)

	// GetObjectPresigned returns a time limited download URL for key
	GetObjectPresigned(ctx context.Context, key string) (string, error)

	// PutObject writes a whole object, replacing any previous content
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)

	// CopyObject copies an object server side
	CopyObject(ctx context.Context, params *CopyObjectParams) (*CopyObjectResponse, error)

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) (bool, error)

	// ListObjects returns every object whose key starts with prefix
	ListObjects(ctx context.Context, prefix string) ([]*BlobInfo, error)
}

// ===================================================================================================

type GetObjectResponse struct {
	Body         io.ReadCloser
	ETag         string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type PutObjectParams struct {
	Key         string
	Size        int64
	ContentType string
	Body        io.Reader
}

type PutObjectResponse struct {
	Key          string
	Version      string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type CopyObjectParams struct {
	SourceKey      string
	DestinationKey string
}

type CopyObjectResponse struct {
	ETag         string
	LastModified time.Time
}

// ===================================================================================================

type BlobInfo struct {
	Key          string `json:"key"`
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}
