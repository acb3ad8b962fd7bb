package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/needflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
	matchdomain "github.com/smallbiznis/needflow/internal/match/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	// Details maps offending need ids to the reason they were refused.
	Details map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var ineligible *distributiondomain.NeedNotEligibleError
	if errors.As(err, &ineligible) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "need_not_eligible",
			Message: "one or more needs are not eligible",
			Details: reasonDetails(ineligible.Reasons),
		}
	}

	var inconsistent *distributiondomain.InconsistentBatchError
	if errors.As(err, &inconsistent) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "inconsistent_batch",
			Message: "batch members are inconsistent, nothing was changed",
			Details: reasonDetails(inconsistent.Reasons),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, needdomain.ErrIllegalTransition):
		return http.StatusConflict, errorPayload{
			Type:    "illegal_transition",
			Message: "action is not allowed from the current status",
		}
	case errors.Is(err, needdomain.ErrConcurrentModification):
		return http.StatusConflict, errorPayload{
			Type:    "concurrent_modification",
			Message: "resource was modified concurrently, retry",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, matchdomain.ErrOverCollection):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "over_collection",
			Message: "quantity exceeds what remains to be collected",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code the request logger records.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isNeedValidationError(err),
		isApprovalValidationError(err),
		isBatchValidationError(err),
		isAuditValidationError(err),
		isCatalogValidationError(err):
		return true
	default:
		return false
	}
}

func isNeedValidationError(err error) bool {
	switch {
	case errors.Is(err, needdomain.ErrInvalidQuantity),
		errors.Is(err, needdomain.ErrInvalidKind),
		errors.Is(err, needdomain.ErrInvalidStatus),
		errors.Is(err, needdomain.ErrInvalidPriority),
		errors.Is(err, needdomain.ErrInvalidItemName),
		errors.Is(err, needdomain.ErrInvalidCase),
		errors.Is(err, needdomain.ErrInvalidPageToken),
		errors.Is(err, needdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isApprovalValidationError(err error) bool {
	return errors.Is(err, approvaldomain.ErrInvalidAction) ||
		errors.Is(err, authorization.ErrInvalidRole)
}

func isBatchValidationError(err error) bool {
	switch {
	case errors.Is(err, distributiondomain.ErrEmptyBatch),
		errors.Is(err, distributiondomain.ErrBatchTooLarge),
		errors.Is(err, distributiondomain.ErrInvalidDistribution),
		errors.Is(err, distributiondomain.ErrInvalidPageToken),
		errors.Is(err, distributiondomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isCatalogValidationError(err error) bool {
	return errors.Is(err, catalogdomain.ErrInvalidName) ||
		errors.Is(err, catalogdomain.ErrInvalidUnitPrice)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, needdomain.ErrNeedNotFound),
		errors.Is(err, distributiondomain.ErrBatchNotFound),
		errors.Is(err, catalogdomain.ErrSupplyItemNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "empty_batch", "batch_too_large":
		return "need_ids"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_batch":
		return "at least one need is required"
	case "batch_too_large":
		return "too many needs for one batch"
	default:
		return "invalid value"
	}
}

func reasonDetails(reasons map[snowflake.ID]string) map[string]string {
	out := make(map[string]string, len(reasons))
	for id, reason := range reasons {
		out[id.String()] = reason
	}
	return out
}
