package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/config"
	"github.com/openmined/kbsync/internal/dispatch"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/ledger"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/wiki"
	"github.com/openmined/kbsync/internal/wikisync"
)

// openBackend connects the object store. Tests swap it for an in-memory store.
var openBackend = func(ctx context.Context, cfg *blob.S3Config) (blob.IBlobBackend, error) {
	return blob.NewS3BackendWithConfig(ctx, cfg)
}

func newExecutor(cfg *config.Config) *retry.Executor {
	return retry.NewExecutor(cfg.Retry.Policy(), retry.WithLogger(slog.Default()))
}

func newLedgerStore(ctx context.Context, cfg *config.Config, exec *retry.Executor) (*ledger.Store, blob.IBlobBackend, error) {
	backend, err := openBackend(ctx, &cfg.Storage.S3Config)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewStore(backend, cfg.Storage.LedgerKey(), exec), backend, nil
}

func newSyncer(ctx context.Context, cfg *config.Config, exec *retry.Executor) (*wikisync.Syncer, error) {
	store, backend, err := newLedgerStore(ctx, cfg, exec)
	if err != nil {
		return nil, err
	}
	source := wiki.NewClient(&cfg.Wiki)
	return wikisync.New(source, backend, store, exec, cfg.SyncOptions()), nil
}

func newDispatcher(ctx context.Context, cfg *config.Config, exec *retry.Executor) (*dispatch.Dispatcher, error) {
	backend, err := openBackend(ctx, &cfg.Storage.S3Config)
	if err != nil {
		return nil, err
	}
	return dispatch.New(kb.NewClient(&cfg.Index), backend, exec, cfg.DispatchOptions())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
