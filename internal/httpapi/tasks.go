package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/tracing"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue/dispatcher"
)

type taskHandler struct {
	worker JobHandler
	tracer *tracing.Tracer
	log    logger.Logger
}

// handle decodes the dispatcher's /tasks/process body and runs the job to
// completion synchronously. It always acknowledges with 200: Cloud Tasks
// retries on any non-2xx response, and retry decisions for a job already
// recorded in the state store belong to the job's own failure handling,
// not to Cloud Tasks redelivery.
func (h *taskHandler) handle(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"acknowledged": true, "error": "read body: " + err.Error()})
		return
	}

	job, err := dispatcher.ParseTask(raw)
	if err != nil {
		if h.log != nil {
			h.log.Warn("failed to parse delivered task", logger.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"acknowledged": true, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if h.tracer != nil {
		var span interface{ End() }
		ctx, span = h.tracer.TaskDeliverySpan(ctx, job.ID)
		defer span.End()
	}

	result := h.worker.HandleDeliveredJob(ctx, job)
	c.JSON(http.StatusOK, gin.H{"acknowledged": true, "success": result.Success})
}
