package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/kbsync/internal/server/handlers/api"
	"github.com/openmined/kbsync/internal/wikisync"
)

// Runner is the batch walk, implemented by wikisync.Syncer
type Runner interface {
	TryRun(ctx context.Context) (*wikisync.Report, error)
}

type TriggerHandler struct {
	runner Runner
	base   context.Context
}

// New returns a handler that runs walks under base rather than the request
// context, so a client that disconnects does not abort the run. Cancelling
// base aborts a run in progress.
func New(base context.Context, runner Runner) *TriggerHandler {
	return &TriggerHandler{runner: runner, base: base}
}

// Sync runs one walk and responds with its report
func (h *TriggerHandler) Sync(ctx *gin.Context) {
	report, err := h.runner.TryRun(h.base)
	if errors.Is(err, wikisync.ErrSyncAlreadyRunning) {
		api.AbortWithError(ctx, http.StatusConflict, api.CodeSyncRunning, err)
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	if report.Code == wikisync.CodeFatal {
		slog.Error("sync trigger failed", "message", report.Message)
		_ = ctx.Error(fmt.Errorf("%s: %s", api.CodeSyncFailed, report.Message))
		ctx.PureJSON(http.StatusInternalServerError, report)
		return
	}
	ctx.PureJSON(http.StatusOK, report)
}
