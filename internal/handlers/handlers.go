package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"otabridge/internal/amendments"
	"otabridge/internal/bus"
	"otabridge/internal/inbound"
	"otabridge/internal/models"
	"otabridge/internal/monitoring"
	"otabridge/internal/oerr"
	"otabridge/internal/payload"
	"otabridge/internal/reconcile"
	"otabridge/internal/repository"
	"otabridge/internal/retention"
	"otabridge/internal/search"
)

type Handlers struct {
	pipeline    *inbound.Pipeline
	payloads    *payload.Store
	amendments  *amendments.Engine
	reconciler  *reconcile.Engine
	retention   *retention.Service
	monitor     *monitoring.Service
	transitions *repository.TransitionRepository
	deadLetters *repository.DeadLetterRepository
	index       *search.PayloadIndex
	bus         *bus.Bus
	maxBody     int64
}

func NewHandlers(pipeline *inbound.Pipeline, payloads *payload.Store, amendmentEngine *amendments.Engine,
	reconciler *reconcile.Engine, retentionSvc *retention.Service, monitor *monitoring.Service,
	transitions *repository.TransitionRepository, deadLetters *repository.DeadLetterRepository,
	index *search.PayloadIndex, b *bus.Bus, maxBody int64) *Handlers {
	return &Handlers{
		pipeline:    pipeline,
		payloads:    payloads,
		amendments:  amendmentEngine,
		reconciler:  reconciler,
		retention:   retentionSvc,
		monitor:     monitor,
		transitions: transitions,
		deadLetters: deadLetters,
		index:       index,
		bus:         b,
		maxBody:     maxBody,
	}
}

// respondError maps the error taxonomy onto stable HTTP responses
func respondError(c *gin.Context, err error) {
	correlationID, _ := c.Get("correlation_id")
	cid, _ := correlationID.(string)

	var oe *oerr.Error
	if !errors.As(err, &oe) {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code: "internal", Message: "Internal server error", CorrelationID: cid,
		})
		return
	}

	status := http.StatusInternalServerError
	switch oe.Kind {
	case oerr.KindValidation:
		status = http.StatusBadRequest
	case oerr.KindAuth:
		status = http.StatusUnauthorized
	case oerr.KindBusinessRule:
		status = http.StatusConflict
	case oerr.KindRateLimited:
		status = http.StatusTooManyRequests
		if oe.RetryAfter > 0 {
			secs := int(oe.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	case oerr.KindTransient:
		status = http.StatusServiceUnavailable
	case oerr.KindIntegrity:
		status = http.StatusInternalServerError
	}

	c.JSON(status, models.ErrorResponse{
		Code: oe.Kind.Code(), Message: oe.Message, CorrelationID: cid,
	})
}
