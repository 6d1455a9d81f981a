package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// ContentTypeProblemJSON - media type ответов с ошибками (RFC 7807).
const ContentTypeProblemJSON = "application/problem+json"

const (
	typeValidation     = "/problems/validation-error"
	typeUnauthorized   = "/problems/unauthorized"
	typeForbidden      = "/problems/forbidden"
	typeNotFound       = "/problems/not-found"
	typeConflict       = "/problems/conflict"
	typeStock          = "/problems/insufficient-stock"
	typeTransition     = "/problems/invalid-transition"
	typeUnprocessable  = "/problems/item-not-found"
	typeUnavailable    = "/problems/temporarily-unavailable"
	typeReconciliation = "/problems/reconciliation-required"
	typeInternal       = "/problems/internal-error"
)

// retryAfterSeconds - подсказка клиенту для повторяемых ошибок.
const retryAfterSeconds = "1"

var errMissingIdentity = errors.New("missing identity headers")

// Problem - тело ответа об ошибке.
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Retryable  bool           `json:"retryable"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p Problem) with(key string, value any) Problem {
	if p.Extensions == nil {
		p.Extensions = make(map[string]any)
	}
	p.Extensions[key] = value
	return p
}

type shortageBody struct {
	Line      int    `json:"line"`
	ItemID    string `json:"item_id"`
	Name      string `json:"name,omitempty"`
	Requested int32  `json:"requested"`
	Available int32  `json:"available"`
}

// problemFor переводит ошибку домена в HTTP-ответ. Порядок проверок важен:
// ErrReconciliationRequired оборачивает ErrPersistence.
func problemFor(err error) Problem {
	var (
		validation *domain.ValidationError
		stock      *domain.InsufficientStockError
		missing    *domain.ItemNotFoundError
		transition *domain.TransitionError
	)

	switch {
	case errors.Is(err, errMissingIdentity):
		return Problem{Type: typeUnauthorized, Title: "Unauthorized", Status: http.StatusUnauthorized, Detail: err.Error()}

	case errors.Is(err, domain.ErrReconciliationRequired):
		return Problem{
			Type:   typeReconciliation,
			Title:  "Order Not Recorded",
			Status: http.StatusInternalServerError,
			Detail: "payment was confirmed but the order could not be saved; an operator has been notified",
		}

	case errors.As(err, &stock):
		shortages := make([]shortageBody, 0, len(stock.Shortages))
		for _, s := range stock.Shortages {
			shortages = append(shortages, shortageBody(s))
		}
		return Problem{Type: typeStock, Title: "Insufficient Stock", Status: http.StatusConflict, Detail: err.Error()}.
			with("shortages", shortages)

	case errors.As(err, &missing):
		return Problem{Type: typeUnprocessable, Title: "Item Not Available", Status: http.StatusUnprocessableEntity, Detail: err.Error()}.
			with("item_ids", missing.ItemIDs)

	case errors.As(err, &transition):
		return Problem{Type: typeTransition, Title: "Invalid Status Transition", Status: http.StatusConflict, Detail: err.Error()}.
			with("from", string(transition.From)).
			with("to", string(transition.To))

	case errors.As(err, &validation):
		p := Problem{Type: typeValidation, Title: "Validation Error", Status: http.StatusBadRequest, Detail: err.Error()}
		if validation.Field != "" {
			p = p.with("field", validation.Field)
		}
		return p

	case errors.Is(err, domain.ErrForbidden):
		return Problem{Type: typeForbidden, Title: "Forbidden", Status: http.StatusForbidden, Detail: err.Error()}

	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		return Problem{Type: typeNotFound, Title: "Resource Not Found", Status: http.StatusNotFound, Detail: err.Error()}

	case errors.Is(err, domain.ErrCheckoutTimeout), errors.Is(err, domain.ErrPaymentNotConfirmed):
		return Problem{Type: typeUnavailable, Title: "Try Again", Status: http.StatusServiceUnavailable, Detail: err.Error(), Retryable: true}

	case errors.Is(err, domain.ErrOrderVersionConflict):
		return Problem{Type: typeConflict, Title: "Conflict", Status: http.StatusConflict, Detail: err.Error(), Retryable: true}

	case errors.Is(err, domain.ErrPaymentConflict), errors.Is(err, domain.ErrPaymentAlreadyUsed):
		return Problem{Type: typeConflict, Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()}

	case errors.Is(err, domain.ErrPaymentAmountMismatch):
		return Problem{Type: typeValidation, Title: "Validation Error", Status: http.StatusBadRequest, Detail: err.Error()}

	default:
		return Problem{Type: typeInternal, Title: "Internal Server Error", Status: http.StatusInternalServerError}
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	problem := problemFor(err)
	problem.Instance = c.Request.URL.Path

	entry := h.logger.WithError(err).WithField("path", c.Request.URL.Path)
	if problem.Status >= http.StatusInternalServerError && !problem.Retryable {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	if problem.Retryable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}
