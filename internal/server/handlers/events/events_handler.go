package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/kbsync/internal/dispatch"
	"github.com/openmined/kbsync/internal/kb"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/server/handlers/api"
)

// MaxNotificationSize caps the request body of a notification delivery
const MaxNotificationSize = 4 << 20

// Dispatcher is the event path, implemented by dispatch.Dispatcher
type Dispatcher interface {
	HandleNotification(ctx context.Context, data []byte) ([]*dispatch.Result, error)
	JobStatus(ctx context.Context, jobID string) (*kb.JobStatus, error)
}

type EventsHandler struct {
	dispatcher Dispatcher
}

func New(dispatcher Dispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher}
}

type NotifyResponse struct {
	Success bool               `json:"success"`
	Results []*dispatch.Result `json:"results"`
}

// Notify dispatches every record of a raw storage notification. Any failed
// record turns the response into a 500 so the sender redelivers.
func (h *EventsHandler) Notify(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, MaxNotificationSize+1))
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if len(body) > MaxNotificationSize {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeInvalidRequest,
			fmt.Errorf("notification larger than %d bytes", MaxNotificationSize))
		return
	}

	results, err := h.dispatcher.HandleNotification(ctx.Request.Context(), body)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	resp := NotifyResponse{Success: true, Results: results}
	for _, res := range results {
		if !res.Success {
			resp.Success = false
		}
	}
	if !resp.Success {
		_ = ctx.Error(errors.New(api.CodeDispatchFailed))
		ctx.PureJSON(http.StatusInternalServerError, resp)
		return
	}
	ctx.PureJSON(http.StatusOK, resp)
}

// Job reports the status of an indexing job
func (h *EventsHandler) Job(ctx *gin.Context) {
	jobID := ctx.Param("id")
	if jobID == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("job id required"))
		return
	}

	status, err := h.dispatcher.JobStatus(ctx.Request.Context(), jobID)
	if err != nil {
		if retry.Classify(err) == retry.KindNotFound {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeJobNotFound, err)
		} else {
			api.AbortWithError(ctx, http.StatusBadGateway, api.CodeIndexUnavailable, err)
		}
		return
	}
	ctx.PureJSON(http.StatusOK, status)
}
