package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIndexer implements Indexer for testing
type MockIndexer struct {
	mock.Mock
}

func (m *MockIndexer) UploadAsync(ctx context.Context, params *kb.UploadParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *MockIndexer) Delete(ctx context.Context, docRef string) error {
	args := m.Called(ctx, docRef)
	return args.Error(0)
}

func (m *MockIndexer) GetJobStatus(ctx context.Context, jobID string) (*kb.JobStatus, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kb.JobStatus), args.Error(1)
}

func (m *MockIndexer) methods() []string {
	var names []string
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}

var errAbsent = retry.NewError(retry.KindNotFound, "index delete", kb.ErrDocumentAbsent)

func newTestDispatcher(t *testing.T, indexer Indexer) *Dispatcher {
	t.Helper()

	exec := retry.NewExecutor(retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	d, err := New(indexer, blob.NewMemoryBackend("docs"), exec, Options{
		Filter:   FilterConfig{Prefix: "wiki/", LedgerName: "sync_records.json"},
		Chunking: kb.Chunking{Size: 500, Overlap: 50},
	})
	require.NoError(t, err)
	d.now = func() time.Time { return time.Unix(1767225600, 0) }
	d.newID = func() string { return "req-1" }
	return d
}

func policyMetadata(p *kb.UploadParams) bool {
	return p.FileName == "wiki/HR/Policy.md" &&
		p.FileURL == "memory://docs/wiki/HR/Policy.md" &&
		p.Metadata["space"] == "HR" &&
		p.Metadata["title"] == "Policy" &&
		p.Chunking.Size == 500
}

func TestDispatcher_Created(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, "wiki/HR/Policy.md").Return(errAbsent)
	indexer.On("UploadAsync", mock.Anything, mock.MatchedBy(policyMetadata)).Return("job-1", nil).Once()
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectCreated:PutObject", 120))
	assert.True(t, res.Success)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, KindCreated, res.EventKind)
	assert.Equal(t, ActionCreate, res.Result.Action)
	assert.Equal(t, StatusSuccess, res.Result.Status)
	assert.Equal(t, "job-1", res.Result.JobID)
	require.NotNil(t, res.Result.Deleted)
	assert.False(t, *res.Result.Deleted)
	assert.Equal(t, "Policy.md", res.FileInfo.FileName)

	assert.Equal(t, []string{"Delete", "UploadAsync"}, indexer.methods())
	indexer.AssertNumberOfCalls(t, "UploadAsync", 1)
}

func TestDispatcher_Modified(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, "wiki/HR/Policy.md").Return(nil).Once()
	indexer.On("UploadAsync", mock.Anything, mock.MatchedBy(policyMetadata)).Return("job-2", nil).Once()
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectModified:UpdateObjectMeta", 120))
	assert.True(t, res.Success)
	assert.Equal(t, ActionUpdate, res.Result.Action)
	assert.True(t, *res.Result.Deleted)
	assert.Equal(t, "Modified", res.Result.Metadata["event_type"])

	assert.Equal(t, []string{"Delete", "UploadAsync"}, indexer.methods())
	indexer.AssertExpectations(t)
}

func TestDispatcher_Removed(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, "wiki/HR/Policy.md").Return(nil).Once()
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectRemoved:DeleteObject", 0))
	assert.True(t, res.Success)
	assert.Equal(t, ActionDelete, res.Result.Action)
	assert.Equal(t, []string{"Delete"}, indexer.methods())
}

func TestDispatcher_RemovedAlreadyAbsent(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, "wiki/HR/Gone.md").Return(errAbsent)
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Gone.md", "ObjectRemoved:DeleteObject", 0))
	assert.True(t, res.Success)
	assert.False(t, *res.Result.Deleted)
	assert.Equal(t, "document not in index", res.Result.Reason)
	indexer.AssertNumberOfCalls(t, "Delete", 1)
}

func TestDispatcher_NotInScope(t *testing.T) {
	keys := []string{
		"other/HR/Policy.md",
		"wiki/HR/diagram.png",
		"wiki/sync_records.json",
		"wiki/HR/.Policy.md",
		"wiki/HR/",
	}
	for _, key := range keys {
		indexer := &MockIndexer{}
		d := newTestDispatcher(t, indexer)

		res := d.Handle(t.Context(), NewChangeEvent("docs", key, "ObjectCreated:PutObject", 10))
		assert.True(t, res.Success, key)
		assert.Equal(t, ActionSkip, res.Result.Action, key)
		assert.Contains(t, res.Result.Reason, "not in scope", key)
		assert.Empty(t, indexer.Calls, key)
	}
}

func TestDispatcher_Unsupported(t *testing.T) {
	indexer := &MockIndexer{}
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectRestored:Completed", 10))
	assert.True(t, res.Success)
	assert.Equal(t, ActionUnsupported, res.Result.Action)
	assert.Empty(t, indexer.Calls)
}

func TestDispatcher_TooLarge(t *testing.T) {
	tests := []struct {
		eventName string
		action    string
		deleted   bool
	}{
		{"ObjectCreated:PutObject", ActionCreate, false},
		{"ObjectModified:Overwrite", ActionUpdate, true},
	}
	for _, tt := range tests {
		t.Run(tt.eventName, func(t *testing.T) {
			indexer := &MockIndexer{}
			if tt.deleted {
				indexer.On("Delete", mock.Anything, "wiki/HR/Big.pdf").Return(nil).Once()
			} else {
				indexer.On("Delete", mock.Anything, "wiki/HR/Big.pdf").Return(errAbsent).Once()
			}
			d := newTestDispatcher(t, indexer)

			res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Big.pdf", tt.eventName, DefaultMaxObjectSize+1))
			assert.False(t, res.Success)
			assert.Equal(t, tt.action, res.Result.Action)
			assert.Equal(t, "object too large: 200 MiB exceeds 200 MiB", res.Result.Error)
			require.NotNil(t, res.Result.Deleted)
			assert.Equal(t, tt.deleted, *res.Result.Deleted)

			// the stale copy is dropped, nothing is uploaded
			assert.Equal(t, []string{"Delete"}, indexer.methods())
			indexer.AssertNumberOfCalls(t, "Delete", 1)
		})
	}
}

func TestDispatcher_UploadFailureIsBounded(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, mock.Anything).Return(nil)
	indexer.On("UploadAsync", mock.Anything, mock.Anything).
		Return("", retry.NewError(retry.KindTransient, "upload", errors.New("bad gateway")))
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectCreated:PutObject", 10))
	assert.False(t, res.Success)
	assert.Equal(t, StatusFailed, res.Result.Status)
	assert.Contains(t, res.Result.Error, "bad gateway")
	indexer.AssertNumberOfCalls(t, "UploadAsync", 3)
}

func TestDispatcher_ModifiedAfterFatalDelete(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, mock.Anything).
		Return(retry.NewError(retry.KindPermission, "delete", errors.New("forbidden")))
	indexer.On("UploadAsync", mock.Anything, mock.Anything).Return("job-3", nil)
	d := newTestDispatcher(t, indexer)

	res := d.Handle(t.Context(), NewChangeEvent("docs", "wiki/HR/Policy.md", "ObjectModified:PutObject", 10))
	assert.True(t, res.Success)
	assert.Equal(t, "job-3", res.Result.JobID)
	assert.Contains(t, res.Result.Reason, "prior delete failed")
	assert.Equal(t, []string{"Delete", "UploadAsync"}, indexer.methods())
}

func TestDispatcher_HandleNotification(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("Delete", mock.Anything, mock.Anything).Return(nil)
	indexer.On("UploadAsync", mock.Anything, mock.Anything).Return("job-4", nil)
	d := newTestDispatcher(t, indexer)

	payload := `{"Records":[
		{"eventName":"ObjectCreated:Put","awsRegion":"us-east-1","s3":{"bucket":{"name":"docs"},"object":{"key":"wiki/HR/Leave+Policy.md","size":5}}},
		{"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"docs"},"object":{"key":"wiki/HR/Old.md"}}}
	]}`
	results, err := d.HandleNotification(t.Context(), []byte(payload))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "wiki/HR/Leave Policy.md", results[0].FileInfo.ObjectKey)
	assert.Equal(t, ActionCreate, results[0].Result.Action)
	assert.Equal(t, ActionDelete, results[1].Result.Action)
	assert.Equal(t, []string{"Delete", "UploadAsync", "Delete"}, indexer.methods())

	_, err = d.HandleNotification(t.Context(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestDispatcher_JobStatus(t *testing.T) {
	indexer := &MockIndexer{}
	indexer.On("GetJobStatus", mock.Anything, "job-1").Return(&kb.JobStatus{JobID: "job-1", Status: kb.JobSuccess}, nil)
	d := newTestDispatcher(t, indexer)

	status, err := d.JobStatus(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, kb.JobSuccess, status.Status)
}
