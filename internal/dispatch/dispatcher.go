package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/retry"
)

// DefaultMaxObjectSize is the largest object handed to the indexing service
const DefaultMaxObjectSize int64 = 200 << 20

const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionSkip        = "skip"
	ActionUnsupported = "unsupported"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Indexer is the indexing service, implemented by kb.Client
type Indexer interface {
	UploadAsync(ctx context.Context, params *kb.UploadParams) (string, error)
	Delete(ctx context.Context, docRef string) error
	GetJobStatus(ctx context.Context, jobID string) (*kb.JobStatus, error)
}

// URLSigner issues short lived GET urls for objects, implemented by the blob
// backends.
type URLSigner interface {
	GetObjectPresigned(ctx context.Context, key string) (string, error)
}

type Options struct {
	Filter        FilterConfig
	MaxObjectSize int64
	Chunking      kb.Chunking
	Source        string
}

type FileInfo struct {
	Bucket    string `json:"bucket_name"`
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	Region    string `json:"region,omitempty"`
}

type ActionResult struct {
	Action   string            `json:"action"`
	Status   string            `json:"status"`
	JobID    string            `json:"job_id,omitempty"`
	Error    string            `json:"error,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Deleted  *bool             `json:"deleted,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the outcome of one dispatched event. Success covers only this
// event; filtered and unsupported events are successful no-ops.
type Result struct {
	Success   bool         `json:"success"`
	RequestID string       `json:"request_id"`
	EventKind EventKind    `json:"event_kind"`
	EventName string       `json:"event_name"`
	FileInfo  FileInfo     `json:"file_info"`
	Result    ActionResult `json:"result"`
}

// Dispatcher maps change events onto indexing service calls. It keeps no
// state between events.
//
// Two overlapping Modified events for the same key may interleave their
// delete and upload calls. Deliveries that need strict per key ordering must
// be serialized by the caller.
type Dispatcher struct {
	indexer Indexer
	signer  URLSigner
	filter  *Filter
	exec    *retry.Executor
	opts    Options
	now     func() time.Time
	newID   func() string
}

func New(indexer Indexer, signer URLSigner, exec *retry.Executor, opts Options) (*Dispatcher, error) {
	filter, err := NewFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	if opts.MaxObjectSize <= 0 {
		opts.MaxObjectSize = DefaultMaxObjectSize
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	return &Dispatcher{
		indexer: indexer,
		signer:  signer,
		filter:  filter,
		exec:    exec,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// HandleNotification parses a raw notification and dispatches each record once
func (d *Dispatcher) HandleNotification(ctx context.Context, data []byte) ([]*Result, error) {
	events, err := ParseNotification(data)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, 0, len(events))
	for _, ev := range events {
		results = append(results, d.Handle(ctx, ev))
	}
	return results, nil
}

func (d *Dispatcher) Handle(ctx context.Context, ev *ChangeEvent) *Result {
	res := &Result{
		Success:   true,
		RequestID: d.newID(),
		EventKind: ev.Kind,
		EventName: ev.Name,
		FileInfo: FileInfo{
			Bucket:    ev.Bucket,
			ObjectKey: ev.ObjectKey,
			FileName:  ev.FileName,
			Size:      ev.Size,
			Region:    ev.Region,
		},
	}
	log := slog.With("requestId", res.RequestID, "key", ev.ObjectKey, "event", ev.Name)

	if ev.Kind == KindUnknown {
		log.Warn("dispatch unsupported event")
		res.Result = ActionResult{Action: ActionUnsupported, Status: StatusSkipped, Reason: fmt.Sprintf("unsupported event %q", ev.Name)}
		return res
	}

	if ok, reason := d.filter.Check(ev.ObjectKey); !ok {
		log.Info("dispatch skip", "reason", reason)
		res.Result = ActionResult{Action: ActionSkip, Status: StatusSkipped, Reason: reason}
		return res
	}

	switch ev.Kind {
	case KindCreated:
		res.Result = d.upsert(ctx, ev, ActionCreate)
	case KindModified:
		res.Result = d.upsert(ctx, ev, ActionUpdate)
	case KindRemoved:
		res.Result = d.remove(ctx, ev)
	}

	res.Success = res.Result.Status != StatusFailed
	if res.Success {
		log.Info("dispatch done", "action", res.Result.Action, "jobId", res.Result.JobID)
	} else {
		log.Error("dispatch failed", "action", res.Result.Action, "error", res.Result.Error)
	}
	return res
}

// deletePrior removes any indexed copy of key. deleted is false when the
// call failed or there was nothing to delete.
func (d *Dispatcher) deletePrior(ctx context.Context, key string) (deleted bool, res retry.Result[struct{}]) {
	res = d.exec.Run(ctx, "index delete", func(ctx context.Context) error {
		return d.indexer.Delete(ctx, key)
	})
	return res.Err == nil, res
}

// upsert replaces the indexed copy of the object. The delete always runs
// first, so redelivered Created events never duplicate a document.
func (d *Dispatcher) upsert(ctx context.Context, ev *ChangeEvent, action string) ActionResult {
	out := ActionResult{Action: action}
	failed := func(format string, args ...any) ActionResult {
		out.Status = StatusFailed
		out.Error = fmt.Sprintf(format, args...)
		return out
	}

	deleted, del := d.deletePrior(ctx, ev.ObjectKey)
	out.Deleted = &deleted
	switch {
	case del.Err == nil, del.Kind == retry.KindNotFound:
	case del.Kind == retry.KindCanceled:
		return failed("delete prior document: %v", del.Err)
	default:
		// the delete is confirmed failed, an upload still replaces the content
		slog.Warn("dispatch delete prior failed", "key", ev.ObjectKey, "kind", del.Kind, "error", del.Err)
		out.Reason = fmt.Sprintf("prior delete failed: %v", del.Err)
	}

	// the prior copy is already gone when an oversized object is rejected
	if ev.Size > d.opts.MaxObjectSize {
		return failed("object too large: %s exceeds %s",
			humanize.IBytes(uint64(ev.Size)), humanize.IBytes(uint64(d.opts.MaxObjectSize)))
	}

	signed := retry.Do(ctx, d.exec, "presign", func(ctx context.Context) (string, error) {
		return d.signer.GetObjectPresigned(ctx, ev.ObjectKey)
	})
	if signed.Err != nil {
		return failed("presign %s: %v", ev.ObjectKey, signed.Err)
	}

	metadata := MetadataFromKey(ev.ObjectKey, d.opts.Filter.Prefix, d.opts.Source, ev.Kind, d.now())
	upload := retry.Do(ctx, d.exec, "index upload", func(ctx context.Context) (string, error) {
		return d.indexer.UploadAsync(ctx, &kb.UploadParams{
			FileName: ev.ObjectKey,
			FileURL:  signed.Value,
			Metadata: metadata,
			Chunking: d.opts.Chunking,
		})
	})
	if upload.Err != nil {
		return failed("upload: %v", upload.Err)
	}

	out.Status = StatusSuccess
	out.JobID = upload.Value
	out.Metadata = metadata
	return out
}

func (d *Dispatcher) remove(ctx context.Context, ev *ChangeEvent) ActionResult {
	deleted, del := d.deletePrior(ctx, ev.ObjectKey)
	out := ActionResult{Action: ActionDelete, Deleted: &deleted}

	switch {
	case del.Err == nil:
		out.Status = StatusSuccess
	case del.Kind == retry.KindNotFound:
		out.Status = StatusSuccess
		out.Reason = "document not in index"
	default:
		out.Status = StatusFailed
		out.Error = fmt.Sprintf("delete: %v", del.Err)
	}
	return out
}

// JobStatus queries the indexing service for an upload job
func (d *Dispatcher) JobStatus(ctx context.Context, jobID string) (*kb.JobStatus, error) {
	res := retry.Do(ctx, d.exec, "job status", func(ctx context.Context) (*kb.JobStatus, error) {
		return d.indexer.GetJobStatus(ctx, jobID)
	})
	return res.Value, res.Err
}
