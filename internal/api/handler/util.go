package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/api/middleware"
	"github.com/ayo6706/branch-transactions/internal/api/problem"
	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 2 << 20

var errMissingUser = errors.New("missing user in auth context")

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	RespondProblem(w, r, status, problemType, message, problem.Extensions{})
}

// RespondProblem writes an error response with extension members.
func RespondProblem(w http.ResponseWriter, r *http.Request, status int, problemType, message string, ext problem.Extensions) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.WriteExt(w, r, status, problemType, http.StatusText(status), message, ext)
}

type actor struct {
	UserID string
	Role   string
	Phone  string
}

func requestActor(r *http.Request) (actor, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return actor{}, errMissingUser
	}
	return actor{
		UserID: userID,
		Role:   middleware.UserRoleFromContext(r.Context()),
		Phone:  middleware.PhoneFromContext(r.Context()),
	}, nil
}

// decodeJSON reads a JSON body into dst and runs the struct validator on it.
// An empty body is accepted for requests whose fields are all optional.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %v: %w", err, models.ErrValidation)
	}
	if err := domain.Validator().Struct(dst); err != nil {
		return dtoValidationError(err)
	}
	return nil
}

func dtoValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%v: %w", err, models.ErrValidation)
	}
	fields := make(domain.FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{
			Field:   domain.Field(fe.Field()),
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		})
	}
	return models.NewValidationError(fields)
}

func fieldProblems(err error) []problem.FieldError {
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	out := make([]problem.FieldError, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		out = append(out, problem.FieldError{Field: string(fe.Field), Message: fe.Message})
	}
	return out
}

// respondServiceError maps an error kind to a problem. current, when set, is the
// state the client should re-render.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, current any) {
	ext := problem.Extensions{Current: current}
	if status, slug, msg, ok := mapDBError(err); ok {
		RespondProblem(w, r, status, slug, msg, ext)
		return
	}

	switch models.Kind(err) {
	case models.ErrValidation:
		ext.Errors = fieldProblems(err)
		RespondProblem(w, r, http.StatusUnprocessableEntity, "validation", err.Error(), ext)
	case models.ErrVerificationFailed:
		ext.Errors = fieldProblems(err)
		RespondProblem(w, r, http.StatusUnprocessableEntity, "verification-failed", err.Error(), ext)
	case models.ErrNetwork:
		ext.Retryable = true
		RespondProblem(w, r, http.StatusServiceUnavailable, "backend-unavailable", "the core banking service is unreachable, try again", ext)
	case models.ErrAuthorization:
		if errors.Is(err, errMissingUser) {
			RespondProblem(w, r, http.StatusUnauthorized, "auth/unauthenticated", err.Error(), ext)
			return
		}
		RespondProblem(w, r, http.StatusForbidden, "auth/forbidden", err.Error(), ext)
	case models.ErrWorkflowState:
		RespondProblem(w, r, http.StatusConflict, "workflow-state", err.Error(), ext)
	case models.ErrNotFound:
		RespondProblem(w, r, http.StatusNotFound, "not-found", err.Error(), ext)
	default:
		if errors.Is(err, errMissingUser) {
			RespondError(w, r, http.StatusUnauthorized, "auth/unauthenticated", err.Error())
			return
		}
		zap.L().Error("unhandled service error",
			zap.String("route", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	case "40001": // serialization_failure
		return http.StatusConflict, "db/serialization-failure", "concurrent update, retry the request", true
	default:
		return 0, "", "", false
	}
}
