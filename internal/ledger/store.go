package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/retry"
)

const DefaultName = "sync_records.json"

// Store loads and saves the ledger as a single object in the object store
type Store struct {
	backend blob.IBlobBackend
	key     string
	exec    *retry.Executor
	now     func() time.Time
}

func NewStore(backend blob.IBlobBackend, key string, exec *retry.Executor) *Store {
	return &Store{
		backend: backend,
		key:     key,
		exec:    exec,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Key() string {
	return s.key
}

// Load returns the persisted ledger, or an empty one if none was ever written.
// Every other failure is returned so that callers never overwrite a ledger they
// could not read.
func (s *Store) Load(ctx context.Context) (*Ledger, error) {
	res := retry.Do(ctx, s.exec, "ledger load", func(ctx context.Context) ([]byte, error) {
		obj, err := s.backend.GetObject(ctx, s.key)
		if err != nil {
			return nil, err
		}
		defer obj.Body.Close()
		return io.ReadAll(obj.Body)
	})

	if res.Kind == retry.KindNotFound || errors.Is(res.Err, blob.ErrObjectNotFound) {
		slog.Info("ledger not found, starting empty", "key", s.key)
		return New(), nil
	}
	if res.Err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", s.key, res.Err)
	}

	l, err := Decode(res.Value)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", s.key, err)
	}

	slog.Info("ledger loaded", "key", s.key, "records", l.Len(), "size", humanize.Bytes(uint64(len(res.Value))), "version", l.Version)
	return l, nil
}

// Save replaces the persisted ledger with l
func (s *Store) Save(ctx context.Context, l *Ledger) error {
	l.UpdatedAt = s.now()
	l.Version = CurrentVersion

	data, err := Encode(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	res := s.exec.Run(ctx, "ledger save", func(ctx context.Context) error {
		_, err := s.backend.PutObject(ctx, &blob.PutObjectParams{
			Key:         s.key,
			Size:        int64(len(data)),
			ContentType: "application/json",
			Body:        bytes.NewReader(data),
		})
		return err
	})
	if res.Err != nil {
		return fmt.Errorf("save ledger %s: %w", s.key, res.Err)
	}

	slog.Info("ledger saved", "key", s.key, "records", l.Len(), "size", humanize.Bytes(uint64(len(data))), "attempts", res.Attempts)
	return nil
}

// Orphans lists objects under prefix that no record references. The ledger
// object itself is never an orphan.
func (s *Store) Orphans(ctx context.Context, l *Ledger, prefix string) ([]*blob.BlobInfo, error) {
	res := retry.Do(ctx, s.exec, "list objects", func(ctx context.Context) ([]*blob.BlobInfo, error) {
		return s.backend.ListObjects(ctx, prefix)
	})
	if res.Err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, res.Err)
	}

	referenced := l.Paths()
	var orphans []*blob.BlobInfo
	for _, obj := range res.Value {
		if obj.Key == s.key || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		orphans = append(orphans, obj)
	}
	return orphans, nil
}
