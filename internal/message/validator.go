// Package message validates inbound LI messages: the <message> envelope
// shape, the identifier correlation with the caller, and the inner payload
// against the schema registered for its type version.
package message

import (
	"strings"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/schema"

	"github.com/beevik/etree"
)

// WrapperName is the tag of the envelope element around every message.
const WrapperName = "message"

// SchemaLookup resolves compiled schemas by version.
type SchemaLookup interface {
	Lookup(version string) (schema.Schema, bool)
}

// Validator checks inbound messages. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	schemas SchemaLookup
	logger  logging.Logger
}

// NewValidator creates a validator backed by schemas.
func NewValidator(schemas SchemaLookup, logger logging.Logger) *Validator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Validator{
		schemas: schemas,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "message_validator"}),
	}
}

// Validate runs the envelope and schema checks in order and returns the
// inner message element. Every failure is a *ValidationError.
func (v *Validator) Validate(raw any, messageID string) (*etree.Element, error) {
	el, err := asElement(raw)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(el.Tag, WrapperName) {
		return nil, reject(ReasonWrongWrapper, nil,
			"root element must be %q, found %q", WrapperName, el.Tag)
	}

	children := el.ChildElements()
	if len(children) != 1 {
		return nil, reject(ReasonChildCount, nil,
			"%s element must contain exactly one child element, found %d", WrapperName, len(children))
	}
	inner := children[0]

	header := ExtractHeader(inner)
	if header.MessageIdentifier == "" {
		return nil, reject(ReasonIdentifierMissing, inner, "message identifier is missing")
	}
	if header.MessageIdentifier != messageID {
		return nil, reject(ReasonIdentifierMismatch, inner,
			"message identifier %q does not match the envelope identifier %q", header.MessageIdentifier, messageID)
	}

	if header.MessageTypeVersion == "" {
		return nil, reject(ReasonTypeVersionMissing, inner, "message type version is missing")
	}

	s, ok := v.schemas.Lookup(header.MessageTypeVersion)
	if !ok {
		return nil, reject(ReasonSchemaNotFound, inner,
			"no schema registered for version %s", header.MessageTypeVersion)
	}

	if err := s.Validate(inner); err != nil {
		v.logger.Debug("Schema validation failed",
			logging.Field{Key: "message_id", Value: messageID},
			logging.Field{Key: "version", Value: header.MessageTypeVersion},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, reject(ReasonSchemaViolation, inner, "schema validation failed: %v", err)
	}

	return inner, nil
}

func asElement(raw any) (*etree.Element, error) {
	switch node := raw.(type) {
	case *etree.Element:
		if node == nil {
			return nil, reject(ReasonNotANode, nil, "input is not an XML node")
		}
		return node, nil
	case *etree.Document:
		return nil, notAnElement("document")
	case *etree.CharData:
		if node != nil && node.IsCData() {
			return nil, notAnElement("CDATA section")
		}
		return nil, notAnElement("text")
	case *etree.Comment:
		return nil, notAnElement("comment")
	case *etree.ProcInst:
		return nil, notAnElement("processing instruction")
	case *etree.Directive:
		return nil, notAnElement("directive")
	case etree.Attr, *etree.Attr:
		return nil, notAnElement("attribute")
	default:
		return nil, reject(ReasonNotANode, nil, "input is not an XML node")
	}
}

func notAnElement(kind string) *ValidationError {
	return reject(ReasonNotAnElement, nil, "expected an element node, found %s", kind)
}
