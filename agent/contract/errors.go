package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")

	ErrClassification     = errors.New("routing classification failed")
	ErrQueryRejected      = errors.New("statement is not read-only")
	ErrOrderNotFound      = errors.New("order not found")
	ErrWriteFailed        = errors.New("order status update failed")
	ErrUnauthorizedReturn = errors.New("order was not discussed in this conversation")
)
