package wikisync

import (
	"fmt"
	"time"
)

const (
	CodeOK       = 0
	CodeFatal    = -1
	CodeEmpty    = 1
	CodeNotFound = 2
)

const (
	StatusOK         = "ok"
	StatusNotFound   = "not_found"
	StatusIncomplete = "incomplete"
	StatusEmpty      = "empty"
	StatusFailed     = "failed"
)

// Counters are the per document outcomes of a walk
type Counters struct {
	TotalNodes   int `json:"total_nodes"`
	DocNodes     int `json:"doc_nodes"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	Deleted      int `json:"deleted"`
	DeleteFailed int `json:"delete_failed"`
	Reclaimed    int `json:"reclaimed"`
	Moved        int `json:"moved"`
}

func (c *Counters) add(o Counters) {
	c.TotalNodes += o.TotalNodes
	c.DocNodes += o.DocNodes
	c.Successful += o.Successful
	c.Failed += o.Failed
	c.Skipped += o.Skipped
	c.Deleted += o.Deleted
	c.DeleteFailed += o.DeleteFailed
	c.Reclaimed += o.Reclaimed
	c.Moved += o.Moved
}

type SpaceReport struct {
	ID     string `json:"space_id"`
	Name   string `json:"name"`
	Target string `json:"target"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Counters
}

// Report is the outcome of one batch run. It is always returned, even when
// the run aborted early.
type Report struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Counters
	SyncRecordsCount int            `json:"sync_records_count"`
	APICallsSaved    int            `json:"api_calls_saved"`
	Spaces           []*SpaceReport `json:"spaces"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"-"`
	DurationMS       int64          `json:"duration_ms"`
}

func newReport(startedAt time.Time) *Report {
	return &Report{
		Code:      CodeOK,
		Spaces:    []*SpaceReport{},
		StartedAt: startedAt,
	}
}

func (r *Report) fail(format string, args ...any) *Report {
	r.Code = CodeFatal
	r.Message = fmt.Sprintf(format, args...)
	return r
}

// finish folds the per space counters into the totals and sets the final code
func (r *Report) finish(records int, now time.Time) {
	r.Counters = Counters{}
	notFound, empty, incomplete := 0, 0, 0
	for _, sp := range r.Spaces {
		r.Counters.add(sp.Counters)
		switch sp.Status {
		case StatusNotFound:
			notFound++
		case StatusEmpty:
			empty++
		case StatusIncomplete:
			incomplete++
		}
	}
	r.SyncRecordsCount = records
	r.APICallsSaved = r.Skipped
	r.Duration = now.Sub(r.StartedAt)
	r.DurationMS = r.Duration.Milliseconds()

	if r.Code == CodeFatal {
		return
	}
	switch {
	case notFound > 0:
		r.Code = CodeNotFound
		r.Message = fmt.Sprintf("%d of %d targets not found", notFound, len(r.Spaces))
	case empty > 0:
		r.Code = CodeEmpty
		r.Message = fmt.Sprintf("%d of %d targets listed no documents, deletions skipped", empty, len(r.Spaces))
	case incomplete > 0:
		r.Message = fmt.Sprintf("sync completed, %d targets listed incompletely", incomplete)
	default:
		r.Message = "sync completed"
	}
}

func (r *Report) OK() bool {
	return r.Code == CodeOK
}
