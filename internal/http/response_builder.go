// Package http provides HTTP server and handler implementations.
//
// This file implements the builder used by every handler to write JSON
// responses and maps domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeBadRequest            = "bad_request"
	CodeUnauthenticated       = "unauthenticated"
	CodeValidation            = "validation_error"
	CodeInvalidFrequency      = "invalid_frequency"
	CodeImmutableInstallment  = "immutable_paid_installment"
	CodeInconsistentTotal     = "inconsistent_installment_total"
	CodeInvalidPlan           = "invalid_installment_plan"
	CodeNoPendingInstallments = "no_pending_installments"
	CodeNotFound              = "not_found"
	CodeAlreadyConverted      = "already_converted"
	CodeRuleHasEntries        = "rule_has_entries"
	CodeDuplicateEntry        = "duplicate_entry"
	CodeRateLimited           = "rate_limited"
	CodeStorage               = "storage_failure"
	CodeInternal              = "internal_error"
	CodeNotReady              = "not_ready"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes no
// content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// StatusCode returns the status that Write will send.
func (b *JSONResponseBuilder) StatusCode() int {
	return b.statusCode
}

// message returns the error text of an error response.
func (b *JSONResponseBuilder) message() string {
	if eb, ok := b.body.(ErrorBody); ok {
		return eb.Error
	}
	return ""
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n"))
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: message, Code: code})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message)
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, message)
}

var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrInvalidKind,
	core.ErrEmptyDescription,
	core.ErrDescriptionLong,
	core.ErrInvalidDateRange,
	core.ErrEmptyName,
	core.ErrInvalidStatus,
	core.ErrInvalidDate,
}

// FromError maps err to its response. Every known error kind has exactly
// one status; storage and unknown failures never expose their message.
func FromError(err error) *JSONResponseBuilder {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return ErrorResponse(reqErr.status, reqErr.code, reqErr.msg)
	case errors.Is(err, core.ErrInvalidFrequency):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeInvalidFrequency, err.Error())
	case errors.Is(err, core.ErrImmutablePaidInstallment):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeImmutableInstallment, err.Error())
	case errors.Is(err, core.ErrInconsistentInstallmentTotal):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeInconsistentTotal, err.Error())
	case errors.Is(err, core.ErrInvalidInstallmentPlan):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeInvalidPlan, err.Error())
	case errors.Is(err, core.ErrNoPendingInstallments):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeNoPendingInstallments, err.Error())
	case errors.Is(err, core.ErrNotFound):
		return ErrorResponse(http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, core.ErrAlreadyConverted):
		return ErrorResponse(http.StatusConflict, CodeAlreadyConverted, err.Error())
	case errors.Is(err, core.ErrRuleHasEntries):
		return ErrorResponse(http.StatusConflict, CodeRuleHasEntries, err.Error())
	case errors.Is(err, core.ErrDuplicateEntry):
		return ErrorResponse(http.StatusConflict, CodeDuplicateEntry, err.Error())
	case errors.Is(err, core.ErrStorageFailure):
		return ErrorResponse(http.StatusInternalServerError, CodeStorage, "storage unavailable")
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return ErrorResponse(http.StatusUnprocessableEntity, CodeValidation, err.Error())
		}
	}
	return InternalServerError("internal error")
}
