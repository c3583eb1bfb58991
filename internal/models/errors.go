package models

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrSchemaUnavailable  = errors.New("schema unavailable")
	ErrQuestionRejected   = errors.New("question rejected")
	ErrGenerationFailure  = errors.New("sql generation failed")
	ErrValidationRejected = errors.New("sql rejected by validator")
	ErrExecutionFailure   = errors.New("query execution failed")
)

// ErrorKind tags which pipeline stage ended a request.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindSchemaUnavailable ErrorKind = "schema_unavailable"
	KindQuestionRejected  ErrorKind = "question_rejected"
	KindGenerationFailure ErrorKind = "generation_failure"
	KindValidationReject  ErrorKind = "validation_rejected"
	KindExecutionFailure  ErrorKind = "execution_failure"
)

// Sentinel returns the error value matching the kind, or nil for KindNone.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindSchemaUnavailable:
		return ErrSchemaUnavailable
	case KindQuestionRejected:
		return ErrQuestionRejected
	case KindGenerationFailure:
		return ErrGenerationFailure
	case KindValidationReject:
		return ErrValidationRejected
	case KindExecutionFailure:
		return ErrExecutionFailure
	}
	return nil
}

// HTTPStatus maps a failed stage to the status code the API answers with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindQuestionRejected, KindValidationReject:
		return http.StatusUnprocessableEntity
	case KindSchemaUnavailable:
		return http.StatusServiceUnavailable
	case KindGenerationFailure, KindExecutionFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func WriteError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
