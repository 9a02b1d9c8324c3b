package wikisync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/kbsync/internal/blob"
	"github.com/openmined/kbsync/internal/ledger"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/wiki"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 2
	DefaultPrefix  = "wiki/"

	markdownContentType = "text/markdown; charset=utf-8"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrSpaceNotFound      = errors.New("space not found")
	ErrAmbiguousSpace     = errors.New("space name matches several spaces")
)

// Source is the wiki content API consumed by the walker
type Source interface {
	Authenticate(ctx context.Context) (string, error)
	ListSpaces(ctx context.Context) ([]wiki.Space, error)
	ListNodes(ctx context.Context, spaceID, parentToken string) ([]wiki.Node, error)
	FetchBody(ctx context.Context, docID string) ([]byte, error)
}

type Options struct {
	SpaceIDs   []string
	SpaceNames []string
	Prefix     string
	Workers    int
}

// Syncer mirrors wiki spaces into the object store and keeps the ledger
type Syncer struct {
	source  Source
	backend blob.IBlobBackend
	store   *ledger.Store
	exec    *retry.Executor
	opts    Options
	now     func() time.Time
	muRun   sync.Mutex
}

func New(source Source, backend blob.IBlobBackend, store *ledger.Store, exec *retry.Executor, opts Options) *Syncer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Syncer{
		source:  source,
		backend: backend,
		store:   store,
		exec:    exec,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// target is one configured space, resolved against the space listing
type target struct {
	space   wiki.Space
	segment string
	report  *SpaceReport
}

type listedDoc struct {
	meta      DocumentMetadata
	ancestors []string
	path      string
}

// runState is shared by the workers of a single run. mu guards the ledger and
// every report counter.
type runState struct {
	mu          sync.Mutex
	ledger      *ledger.Ledger
	claimLegacy bool
}

// Run executes one batch walk. It always returns a report.
func (s *Syncer) Run(ctx context.Context) *Report {
	report, err := s.TryRun(ctx)
	if err != nil {
		report = newReport(s.now()).fail("%v", err)
		report.finish(0, s.now())
	}
	return report
}

// TryRun is Run that fails with ErrSyncAlreadyRunning instead of waiting
// when another run of this syncer is in progress.
func (s *Syncer) TryRun(ctx context.Context) (*Report, error) {
	if !s.muRun.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer s.muRun.Unlock()
	return s.run(ctx), nil
}

// Check performs the auth check only and returns the visible spaces
func (s *Syncer) Check(ctx context.Context) ([]wiki.Space, error) {
	return s.authCheck(ctx)
}

func (s *Syncer) run(ctx context.Context) *Report {
	report := newReport(s.now())
	slog.Info("sync start", "spaceIds", s.opts.SpaceIDs, "spaceNames", s.opts.SpaceNames, "prefix", s.opts.Prefix, "workers", s.opts.Workers)

	spaces, err := s.authCheck(ctx)
	if err != nil {
		slog.Error("sync auth check", "error", err)
		report.fail("auth check failed: %v", err).finish(0, s.now())
		return report
	}

	l, err := s.store.Load(ctx)
	if err != nil {
		slog.Error("sync load ledger", "error", err)
		report.fail("load ledger failed: %v", err).finish(0, s.now())
		return report
	}

	targets := s.resolveTargets(spaces, l)
	st := &runState{
		ledger:      l,
		claimLegacy: len(targets) == 1,
	}

	for _, t := range targets {
		report.Spaces = append(report.Spaces, t.report)
		if t.report.Status == StatusNotFound {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		s.walkSpace(ctx, st, t)
	}

	if err := ctx.Err(); err != nil {
		// the persisted ledger stays as it was before this run
		slog.Warn("sync interrupted", "error", err)
		report.fail("sync interrupted: %v", err).finish(l.Len(), s.now())
		return report
	}

	if err := s.store.Save(ctx, l); err != nil {
		slog.Error("sync persist ledger", "error", err)
		report.fail("persist ledger failed: %v", err)
	}

	report.finish(l.Len(), s.now())
	slog.Info("sync done",
		"code", report.Code,
		"total", report.TotalNodes,
		"docs", report.DocNodes,
		"synced", report.Successful,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"deleted", report.Deleted,
		"moved", report.Moved,
		"records", report.SyncRecordsCount,
		"took", report.Duration,
	)
	return report
}

func (s *Syncer) authCheck(ctx context.Context) ([]wiki.Space, error) {
	auth := s.exec.Run(ctx, "authenticate", func(ctx context.Context) error {
		_, err := s.source.Authenticate(ctx)
		return err
	})
	if auth.Err != nil {
		return nil, auth.Err
	}

	res := retry.Do(ctx, s.exec, "list spaces", s.source.ListSpaces)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

// resolveTargets maps configured ids and names onto spaces. Unresolvable
// names yield a not_found target that is never walked.
func (s *Syncer) resolveTargets(spaces []wiki.Space, l *ledger.Ledger) []*target {
	byID := make(map[string]wiki.Space, len(spaces))
	for _, sp := range spaces {
		byID[sp.ID] = sp
	}
	known := make(map[string]string, len(l.Spaces))
	for _, ref := range l.Spaces {
		known[ref.ID] = ref.Name
	}

	var targets []*target
	taken := make(map[string]bool)
	add := func(sp wiki.Space, ref string) {
		if taken[sp.ID] {
			return
		}
		taken[sp.ID] = true
		targets = append(targets, &target{
			space:  sp,
			report: &SpaceReport{ID: sp.ID, Name: sp.Name, Target: ref, Status: StatusOK},
		})
	}

	for _, id := range s.opts.SpaceIDs {
		sp, ok := byID[id]
		if !ok {
			sp = wiki.Space{ID: id, Name: known[id]}
			if sp.Name == "" {
				sp.Name = id
			}
		}
		add(sp, id)
	}

	for _, name := range s.opts.SpaceNames {
		var matches []wiki.Space
		for _, sp := range spaces {
			if sp.Name == name {
				matches = append(matches, sp)
			}
		}
		if len(matches) == 1 {
			add(matches[0], name)
			continue
		}

		err := ErrSpaceNotFound
		if len(matches) > 1 {
			err = ErrAmbiguousSpace
		}
		available := make([]string, 0, len(spaces))
		for _, sp := range spaces {
			available = append(available, sp.Name)
		}
		slog.Error("sync resolve space", "name", name, "matches", len(matches), "available", available)
		targets = append(targets, &target{
			report: &SpaceReport{Name: name, Target: name, Status: StatusNotFound, Error: fmt.Sprintf("%v: %s", err, name)},
		})
	}

	// spaces sharing a name must not share a path segment
	segments := make(map[string]int)
	for _, t := range targets {
		if t.report.Status == StatusOK {
			t.segment = SanitizeSegment(t.space.Name)
			segments[t.segment]++
		}
	}
	for _, t := range targets {
		if t.segment != "" && segments[t.segment] > 1 {
			t.segment = disambiguate(t.segment, t.space.ID)
		}
	}
	return targets
}

func (s *Syncer) walkSpace(ctx context.Context, st *runState, t *target) {
	start := s.now()
	slog.Info("sync space", "id", t.space.ID, "name", t.space.Name)

	docs, totalNodes, complete := s.listTree(ctx, t.space.ID)

	// one entry per document id, first listing position wins
	seen := make(map[string]struct{}, len(docs))
	unique := docs[:0]
	for _, d := range docs {
		if _, dup := seen[d.meta.ID]; dup {
			continue
		}
		seen[d.meta.ID] = struct{}{}
		unique = append(unique, d)
	}
	docs = unique

	assignPaths(s.opts.Prefix, t.segment, docs)
	claimed := make(map[string]string, len(docs))
	for _, d := range docs {
		claimed[d.path] = d.meta.ID
	}

	st.mu.Lock()
	t.report.TotalNodes = totalNodes
	t.report.DocNodes = len(docs)
	st.ledger.SetSpace(ledger.SpaceRef{ID: t.space.ID, Name: t.space.Name})
	st.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, d := range docs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.syncDocument(ctx, st, t, d, claimed)
			return nil
		})
	}
	_ = g.Wait()

	if complete && len(docs) == 0 {
		st.mu.Lock()
		owned := len(st.ledger.OwnedBy(t.space.ID, st.claimLegacy))
		st.mu.Unlock()
		// an empty tree with mirrored records is treated as lost visibility
		if owned > 0 {
			t.report.Status = StatusEmpty
			t.report.Error = fmt.Sprintf("no documents listed, %d records kept", owned)
			slog.Warn("sync space listed no documents, skipping deletions", "id", t.space.ID, "name", t.space.Name, "records", owned)
			return
		}
	}
	if !complete {
		t.report.Status = StatusIncomplete
		t.report.Error = "listing incomplete, deletions skipped"
		slog.Warn("sync space listing incomplete, skipping deletions", "id", t.space.ID, "name", t.space.Name)
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.deleteRemoved(ctx, st, t, seen, claimed)
	slog.Info("sync space done", "id", t.space.ID, "name", t.space.Name, "docs", t.report.DocNodes, "synced", t.report.Successful, "skipped", t.report.Skipped, "failed", t.report.Failed, "deleted", t.report.Deleted, "took", s.now().Sub(start))
}

// listTree lists every node of a space, one listing call per parent. A
// failed listing leaves complete false but keeps the rest of the walk.
func (s *Syncer) listTree(ctx context.Context, spaceID string) (docs []*listedDoc, totalNodes int, complete bool) {
	type parent struct {
		token     string
		ancestors []string
	}

	complete = true
	queue := []parent{{}}
	visited := map[string]bool{}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		res := retry.Do(ctx, s.exec, "list nodes", func(ctx context.Context) ([]wiki.Node, error) {
			return s.source.ListNodes(ctx, spaceID, p.token)
		})
		if res.Err != nil {
			complete = false
			slog.Error("sync list nodes", "space", spaceID, "parent", p.token, "attempts", res.Attempts, "error", res.Err)
			if res.Kind == retry.KindCanceled {
				return docs, totalNodes, false
			}
			continue
		}

		for i := range res.Value {
			n := &res.Value[i]
			totalNodes++

			meta := metadataFromNode(n)
			meta.SpaceID = spaceID
			if meta.IsDocument() {
				docs = append(docs, &listedDoc{meta: meta, ancestors: p.ancestors})
			}

			if n.HasChild && n.NodeToken != "" && !visited[n.NodeToken] {
				visited[n.NodeToken] = true
				queue = append(queue, parent{
					token:     n.NodeToken,
					ancestors: append(slices.Clone(p.ancestors), n.Title),
				})
			}
		}
	}

	return docs, totalNodes, complete
}

func (s *Syncer) syncDocument(ctx context.Context, st *runState, t *target, d *listedDoc, claimed map[string]string) {
	st.mu.Lock()
	var prev *ledger.SyncRecord
	if rec, ok := st.ledger.Get(d.meta.ID); ok {
		cp := *rec
		prev = &cp
	}
	st.mu.Unlock()

	decision := Decide(d.meta, prev)
	if decision.Action == ActionSkip {
		switch {
		case prev.StoragePath == d.path:
			st.mu.Lock()
			if rec, ok := st.ledger.Get(d.meta.ID); ok {
				rec.Title = d.meta.Title
				rec.SpaceID = t.space.ID
			}
			t.report.Skipped++
			st.mu.Unlock()
			return
		case prev.StoragePath == "" || claimed[prev.StoragePath] != "":
			// nothing to copy from, or the old key now belongs to another document
			decision = Decision{Action: ActionSync, Reason: "path_reused"}
		default:
			moved, err := s.relocate(ctx, prev.StoragePath, d.path)
			if err == nil && moved {
				st.mu.Lock()
				if rec, ok := st.ledger.Get(d.meta.ID); ok {
					rec.StoragePath = d.path
					rec.Title = d.meta.Title
					rec.SpaceID = t.space.ID
				}
				t.report.Skipped++
				t.report.Moved++
				st.mu.Unlock()
				slog.Info("sync moved", "id", d.meta.ID, "from", prev.StoragePath, "to", d.path)
				return
			}
			if err != nil {
				slog.Error("sync relocate", "id", d.meta.ID, "from", prev.StoragePath, "to", d.path, "error", err)
				st.mu.Lock()
				t.report.Failed++
				st.mu.Unlock()
				return
			}
			// the mirrored object is gone, fetch it again
			decision = Decision{Action: ActionSync, Reason: "missing"}
		}
	}

	if err := s.fetchAndStore(ctx, st, t, d); err != nil {
		slog.Error("sync document", "id", d.meta.ID, "title", d.meta.Title, "reason", decision.Reason, "error", err)
		st.mu.Lock()
		t.report.Failed++
		st.mu.Unlock()
		return
	}

	if prev != nil && prev.StoragePath != "" && prev.StoragePath != d.path && claimed[prev.StoragePath] == "" {
		s.deleteObject(ctx, prev.StoragePath)
	}
	slog.Debug("sync document", "id", d.meta.ID, "path", d.path, "reason", decision.Reason)
}

func (s *Syncer) fetchAndStore(ctx context.Context, st *runState, t *target, d *listedDoc) error {
	body := retry.Do(ctx, s.exec, "fetch body", func(ctx context.Context) ([]byte, error) {
		return s.source.FetchBody(ctx, d.meta.ID)
	})
	if body.Err != nil {
		return fmt.Errorf("fetch body: %w", body.Err)
	}
	if len(bytes.TrimSpace(body.Value)) == 0 {
		return fmt.Errorf("fetch body: %w", wiki.ErrEmptyBody)
	}

	put := s.exec.Run(ctx, "put object", func(ctx context.Context) error {
		_, err := s.backend.PutObject(ctx, &blob.PutObjectParams{
			Key:         d.path,
			Size:        int64(len(body.Value)),
			ContentType: markdownContentType,
			Body:        bytes.NewReader(body.Value),
		})
		return err
	})
	if put.Err != nil {
		return fmt.Errorf("put object %s: %w", d.path, put.Err)
	}

	sum := sha256.Sum256(body.Value)
	hash := hex.EncodeToString(sum[:])

	st.mu.Lock()
	st.ledger.Put(&ledger.SyncRecord{
		ID:           d.meta.ID,
		Title:        d.meta.Title,
		StoragePath:  d.path,
		ContentHash:  &hash,
		LastSyncedAt: s.now().Unix(),
		LastEditTime: d.meta.EditTime,
		NodeType:     d.meta.NodeType,
		SpaceID:      t.space.ID,
	})
	t.report.Successful++
	st.mu.Unlock()

	slog.Info("sync uploaded", "id", d.meta.ID, "path", d.path, "size", humanize.Bytes(uint64(len(body.Value))))
	return nil
}

// relocate copies from to to and removes from. It reports false without an
// error when from no longer exists.
func (s *Syncer) relocate(ctx context.Context, from, to string) (bool, error) {
	res := s.exec.Run(ctx, "copy object", func(ctx context.Context) error {
		_, err := s.backend.CopyObject(ctx, &blob.CopyObjectParams{SourceKey: from, DestinationKey: to})
		return err
	})
	if res.Kind == retry.KindNotFound {
		return false, nil
	}
	if res.Err != nil {
		return false, res.Err
	}
	s.deleteObject(ctx, from)
	return true, nil
}

// deleteObject removes a superseded object. Failures leave an orphan behind
// and are only logged.
func (s *Syncer) deleteObject(ctx context.Context, key string) {
	res := s.exec.Run(ctx, "delete object", func(ctx context.Context) error {
		_, err := s.backend.DeleteObject(ctx, key)
		return err
	})
	if res.Err != nil && res.Kind != retry.KindNotFound {
		slog.Warn("sync delete superseded object", "key", key, "error", res.Err)
	}
}

func (s *Syncer) deleteRemoved(ctx context.Context, st *runState, t *target, seen map[string]struct{}, claimed map[string]string) {
	st.mu.Lock()
	owned := st.ledger.OwnedBy(t.space.ID, st.claimLegacy)
	st.mu.Unlock()

	for _, rec := range owned {
		if _, ok := seen[rec.ID]; ok {
			continue
		}

		deleted := true
		reclaimed := rec.StoragePath != "" && claimed[rec.StoragePath] != ""
		if rec.StoragePath != "" && !reclaimed && !strings.HasSuffix(rec.StoragePath, "/") {
			res := s.exec.Run(ctx, "delete object", func(ctx context.Context) error {
				_, err := s.backend.DeleteObject(ctx, rec.StoragePath)
				return err
			})
			if res.Err != nil && res.Kind != retry.KindNotFound {
				deleted = false
				slog.Error("sync delete removed", "id", rec.ID, "path", rec.StoragePath, "error", res.Err)
			}
		}

		st.mu.Lock()
		st.ledger.Remove(rec.ID)
		switch {
		case reclaimed:
			t.report.Reclaimed++
		case deleted:
			t.report.Deleted++
		default:
			t.report.DeleteFailed++
		}
		st.mu.Unlock()
		slog.Info("sync removed", "id", rec.ID, "title", rec.Title, "path", rec.StoragePath, "objectDeleted", deleted && !reclaimed, "reclaimed", reclaimed)
	}
}
