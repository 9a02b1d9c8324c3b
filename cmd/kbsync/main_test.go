package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/ledger"
	"github.com/openmined/kbsync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
storage:
  bucket_name: kb-docs
  region: us-east-1
index:
  base_url: http://127.0.0.1:1
retry:
  max_retries: 0
`

type cliEnv struct {
	backend *blob.MemoryBackend
	args    []string
}

// newCLIEnv isolates a run from the host: no home config, no .env, and an
// in-memory object store.
func newCLIEnv(t *testing.T, configYAML string) *cliEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := t.TempDir()
	args := []string{
		"--env-file", filepath.Join(dir, "none.env"),
		"--data-dir", filepath.Join(dir, "data"),
	}
	if configYAML != "" {
		path := filepath.Join(dir, "kbsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
		args = append(args, "--config", path)
	}

	backend := blob.NewMemoryBackend("kb-docs")
	prev := openBackend
	openBackend = func(context.Context, *blob.S3Config) (blob.IBlobBackend, error) {
		return backend, nil
	}
	t.Cleanup(func() { openBackend = prev })

	return &cliEnv{backend: backend, args: args}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, e.args...))
	root.SetOut(&out)
	root.SetErr(&errOut)

	code = 0
	if err := root.ExecuteContext(t.Context()); err != nil {
		code = 1
		if exitErr, ok := err.(*exitError); ok {
			code = exitErr.code
		}
		errOut.WriteString(err.Error())
	}
	return code, out.String(), errOut.String()
}

func (e *cliEnv) put(t *testing.T, key, body string) {
	t.Helper()
	_, err := e.backend.PutObject(t.Context(), &blob.PutObjectParams{
		Key:  key,
		Size: int64(len(body)),
		Body: strings.NewReader(body),
	})
	require.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(t.Context(), []string{"version"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Equal(t, version.DetailedWithApp(), strings.TrimSpace(out.String()))

	out.Reset()
	code = run(t.Context(), []string{"version", "--json"}, &out, &errOut)
	require.Equal(t, 0, code)
	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "kbsync", info.App)
}

func TestSyncCommand_InvalidConfig(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	code, _, stderr := env.run(t, "", "sync")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "app_id required")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(t.Context(), []string{"frobnicate"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestLedgerCommands(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	l := ledger.New()
	l.SetSpace(ledger.SpaceRef{ID: "sp1", Name: "HR"})
	l.Put(&ledger.SyncRecord{ID: "d1", Title: "Handbook", StoragePath: "wiki/HR/Handbook.md", SpaceID: "sp1", NodeType: "docx"})
	l.Put(&ledger.SyncRecord{ID: "d2", Title: "Old", StoragePath: "wiki/Old.md", NodeType: "docx"})
	data, err := ledger.Encode(l)
	require.NoError(t, err)
	env.put(t, "wiki/sync_records.json", string(data))
	env.put(t, "wiki/HR/Handbook.md", "# Handbook")
	env.put(t, "wiki/HR/Stray.md", "# Stray")

	code, stdout, stderr := env.run(t, "", "ledger", "show")
	require.Equal(t, 0, code, stderr)
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 1, summary.Legacy)
	assert.Equal(t, 1, summary.PerSpace["sp1"])

	code, stdout, stderr = env.run(t, "", "ledger", "orphans")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "wiki/HR/Stray.md")
	assert.NotContains(t, stdout, "Handbook.md")
	assert.NotContains(t, stdout, "sync_records.json")
}

func TestEventCommand(t *testing.T) {
	env := newCLIEnv(t, testConfig)

	skipped := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"kb-docs"},"object":{"key":"other/Policy.md","size":10}}}]}`
	code, stdout, stderr := env.run(t, skipped, "event", "-")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"action": "skip"`)

	tooLarge := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"kb-docs"},"object":{"key":"wiki/HR/Big.pdf","size":999999999999}}}]}`
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(tooLarge), 0o644))
	code, stdout, stderr = env.run(t, "", "event", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "too large")
	assert.Contains(t, stderr, "1 of 1 events failed")

	code, _, stderr = env.run(t, "{}", "event")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no records")
}

func TestServeCommand_NothingToServe(t *testing.T) {
	env := newCLIEnv(t, `
storage:
  bucket_name: kb-docs
  region: us-east-1
`)
	code, _, stderr := env.run(t, "", "serve")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nothing to serve")
}
