package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/clincore/clincore-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// raise_exception (P0001): our protection triggers refuse the statement
	case "P0001":
		return mapTriggerRefusal(pqErr)

	// insufficient_privilege (42501): RLS WITH CHECK or policy refusal
	case "42501":
		return errors.Forbidden("operation not permitted for this tenant")

	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapTriggerRefusal maps the immutability and WORM trigger messages.
func mapTriggerRefusal(pqErr *pq.Error) *errors.AppError {
	msg := strings.ToLower(pqErr.Message)

	switch {
	case strings.Contains(msg, "finalized"):
		return errors.Lifecycle("finalized cases are immutable")
	case strings.Contains(msg, "audit"):
		return errors.Forbidden("audit records cannot be modified")
	default:
		return errors.Forbidden(pqErr.Message)
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "status"):
		return errors.Validation(map[string]string{
			"status": "must be one of: draft, finalized, archived",
		})

	case strings.Contains(constraint, "outcome_score"):
		return errors.Validation(map[string]string{
			"outcome_score": "must be between 1 and 10",
		})

	case strings.Contains(constraint, "rank"):
		return errors.Validation(map[string]string{
			"rank": "must be positive",
		})

	case strings.Contains(constraint, "role"):
		return errors.Validation(map[string]string{
			"role": "must be one of: user, admin",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "tenants_name"):
		return "a tenant with this name already exists"
	case strings.Contains(constraint, "key_hash"):
		return "an API key with this hash already exists"
	case strings.Contains(constraint, "case_results"):
		return "this case already has a result for that rank"
	default:
		return "a record with these values already exists"
	}
}
