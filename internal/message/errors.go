package message

import (
	"fmt"

	"li-gateway/internal/common/errors"

	"github.com/beevik/etree"
)

// Reason identifies why a message was rejected.
type Reason string

// Rejection reasons, in the order the validator checks them.
const (
	ReasonNotANode           Reason = "not_a_node"
	ReasonNotAnElement       Reason = "not_an_element"
	ReasonWrongWrapper       Reason = "wrong_wrapper"
	ReasonChildCount         Reason = "child_count"
	ReasonIdentifierMissing  Reason = "identifier_missing"
	ReasonIdentifierMismatch Reason = "identifier_mismatch"
	ReasonTypeVersionMissing Reason = "type_version_missing"
	ReasonSchemaNotFound     Reason = "schema_not_found"
	ReasonSchemaViolation    Reason = "schema_violation"
)

// ValidationError is returned for every rejected inbound message.
// Message is the inner element when the envelope shape was valid enough to
// extract it.
type ValidationError struct {
	Reason  Reason
	Message *etree.Element
	err     *errors.AppError
}

func (e *ValidationError) Error() string {
	return e.err.Message
}

// Unwrap exposes the validation AppError so errors.IsType classifies it.
func (e *ValidationError) Unwrap() error {
	return e.err
}

func reject(reason Reason, inner *etree.Element, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Reason:  reason,
		Message: inner,
		err:     errors.ValidationError(fmt.Sprintf(format, args...)).WithCode(string(reason)),
	}
}
