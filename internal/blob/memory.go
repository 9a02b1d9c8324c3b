package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openmined/kbsync/internal/retry"
)

type memoryObject struct {
	data         []byte
	etag         string
	contentType  string
	lastModified time.Time
}

// MemoryBackend is an IBlobBackend kept entirely in process memory. It backs
// dry runs and tests.
type MemoryBackend struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string]*memoryObject
	now     func() time.Time
}

func NewMemoryBackend(bucket string) *MemoryBackend {
	return &MemoryBackend{
		bucket:  bucket,
		objects: make(map[string]*memoryObject),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryBackend) GetObject(_ context.Context, key string) (*GetObjectResponse, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, retry.NewError(retry.KindNotFound, "get object", fmt.Errorf("%w: %s", ErrObjectNotFound, key))
	}

	return &GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ETag:         obj.etag,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryBackend) GetObjectPresigned(_ context.Context, key string) (string, error) {
	if !ValidateKey(key) {
		return "", ErrInvalidKey
	}
	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + key}
	return u.String(), nil
}

func (m *MemoryBackend) PutObject(_ context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	sum := md5.Sum(data)
	obj := &memoryObject{
		data:         data,
		etag:         hex.EncodeToString(sum[:]),
		contentType:  params.ContentType,
		lastModified: m.now(),
	}

	m.mu.Lock()
	m.objects[params.Key] = obj
	m.mu.Unlock()

	return &PutObjectResponse{
		Key:          params.Key,
		ETag:         obj.etag,
		Size:         int64(len(data)),
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryBackend) CopyObject(_ context.Context, params *CopyObjectParams) (*CopyObjectResponse, error) {
	if !ValidateKey(params.SourceKey) || !ValidateKey(params.DestinationKey) {
		return nil, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.objects[params.SourceKey]
	if !ok {
		return nil, retry.NewError(retry.KindNotFound, "copy object", fmt.Errorf("%w: %s", ErrObjectNotFound, params.SourceKey))
	}

	dst := *src
	dst.data = bytes.Clone(src.data)
	dst.lastModified = m.now()
	m.objects[params.DestinationKey] = &dst

	return &CopyObjectResponse{
		ETag:         dst.etag,
		LastModified: dst.lastModified,
	}, nil
}

// DeleteObject reports whether key existed. Missing keys are not an error.
func (m *MemoryBackend) DeleteObject(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[key]
	delete(m.objects, key)
	return ok, nil
}

func (m *MemoryBackend) ListObjects(_ context.Context, prefix string) ([]*BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := make([]*BlobInfo, 0, len(m.objects))
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, &BlobInfo{
			Key:          key,
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified.Format(time.RFC3339),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

// Keys returns every stored key in lexical order
func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ IBlobBackend = (*MemoryBackend)(nil)
