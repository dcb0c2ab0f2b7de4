package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hylla/herbchain/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrUnsupportedIntent reports an advance intent outside SupportedIntents.
var ErrUnsupportedIntent = fmt.Errorf("%w: unsupported intent", ErrInvalidRequest)

// Stable error codes shared by every transport.
const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_error"
	CodeAuthorization  = "authorization_error"
	CodeConflict       = "conflict"
	CodeNotFound       = "not_found"
	CodeConsistency    = "consistency_error"
	CodeInternal       = "internal_error"
)

// ErrorInfo describes how a transport should surface one error.
type ErrorInfo struct {
	Code      string
	Status    int
	Retryable bool
}

// DescribeError classifies err into a stable code and HTTP status.
func DescribeError(err error) ErrorInfo {
	if errors.Is(err, ErrInvalidRequest) {
		return ErrorInfo{Code: CodeInvalidRequest, Status: http.StatusBadRequest}
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return ErrorInfo{Code: CodeValidation, Status: http.StatusBadRequest}
	case domain.KindAuthorization:
		return ErrorInfo{Code: CodeAuthorization, Status: http.StatusForbidden}
	case domain.KindConflict:
		return ErrorInfo{Code: CodeConflict, Status: http.StatusConflict, Retryable: true}
	case domain.KindNotFound:
		return ErrorInfo{Code: CodeNotFound, Status: http.StatusNotFound}
	case domain.KindConsistency:
		return ErrorInfo{Code: CodeConsistency, Status: http.StatusUnprocessableEntity}
	default:
		return ErrorInfo{Code: CodeInternal, Status: http.StatusInternalServerError}
	}
}

var validate = validator.New()

// validateRequest checks struct tags and reports failures as ErrInvalidRequest.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Namespace())
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	default:
		return field + " is invalid"
	}
}
