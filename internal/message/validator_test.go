package message_test

import (
	"errors"
	"testing"

	apperrors "li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/message"
	"li-gateway/internal/routing"
	"li-gateway/internal/schema"
	"li-gateway/internal/testutil"
	"li-gateway/internal/xmlutil"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSchema struct {
	err  error
	seen *etree.Element
}

func (s *stubSchema) Validate(el *etree.Element) error {
	s.seen = el
	return s.err
}

func newValidator(t *testing.T, versions map[string]schema.Schema) *message.Validator {
	t.Helper()
	registry := schema.NewRegistry(schema.WithLogger(logging.NewNopLogger()))
	for v, s := range versions {
		registry.Register(v, s)
	}
	return message.NewValidator(registry, logging.NewNopLogger())
}

func requireReason(t *testing.T, err error, reason message.Reason) *message.ValidationError {
	t.Helper()
	require.Error(t, err)

	var verr *message.ValidationError
	require.True(t, errors.As(err, &verr), "expected *message.ValidationError, got %T", err)
	assert.Equal(t, reason, verr.Reason)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	return verr
}

func TestValidator_Success(t *testing.T) {
	s := &stubSchema{}
	v := newValidator(t, map[string]schema.Schema{"3.5": s})

	wrapper := testutil.NewReceiptConfirmation().Build()
	inner, err := v.Validate(wrapper, "M-1")
	require.NoError(t, err)

	assert.Equal(t, "ReceiptConfirmationMessage", inner.Tag)
	assert.Same(t, inner, s.seen, "the inner element, not the envelope, is schema-validated")
}

func TestValidator_WrapperTagIsCaseInsensitive(t *testing.T) {
	v := newValidator(t, map[string]schema.Schema{"3.5": &stubSchema{}})

	wrapper := testutil.NewReceiptConfirmation().Build()
	wrapper.Tag = "MESSAGE"

	_, err := v.Validate(wrapper, "M-1")
	assert.NoError(t, err)
}

func TestValidator_NotANode(t *testing.T) {
	v := newValidator(t, nil)

	for _, raw := range []any{nil, "<message/>", 42, (*etree.Element)(nil)} {
		_, err := v.Validate(raw, "M-1")
		verr := requireReason(t, err, message.ReasonNotANode)
		assert.Equal(t, "input is not an XML node", verr.Error())
	}
}

func TestValidator_NotAnElement(t *testing.T) {
	v := newValidator(t, nil)

	tests := []struct {
		raw  any
		kind string
	}{
		{etree.NewDocument(), "document"},
		{etree.NewText("hello"), "text"},
		{etree.NewCData("hello"), "CDATA section"},
		{etree.NewComment("note"), "comment"},
		{etree.NewProcInst("xml", `version="1.0"`), "processing instruction"},
		{etree.NewDirective("DOCTYPE message"), "directive"},
		{etree.Attr{Key: "id", Value: "M-1"}, "attribute"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := v.Validate(tt.raw, "M-1")
			verr := requireReason(t, err, message.ReasonNotAnElement)
			assert.Contains(t, verr.Error(), tt.kind)
		})
	}
}

func TestValidator_WrongWrapper(t *testing.T) {
	v := newValidator(t, nil)

	inner := testutil.NewReceiptConfirmation().BuildInner()
	_, err := v.Validate(inner, "M-1")
	verr := requireReason(t, err, message.ReasonWrongWrapper)
	assert.Contains(t, verr.Error(), "ReceiptConfirmationMessage")
}

func TestValidator_ChildCount(t *testing.T) {
	v := newValidator(t, map[string]schema.Schema{"3.5": &stubSchema{}})

	t.Run("zero children", func(t *testing.T) {
		_, err := v.Validate(etree.NewElement("message"), "M-1")
		verr := requireReason(t, err, message.ReasonChildCount)
		assert.Contains(t, verr.Error(), "found 0")
	})

	t.Run("two valid children", func(t *testing.T) {
		wrapper := testutil.NewReceiptConfirmation().Build()
		wrapper.AddChild(testutil.NewReceiptConfirmation().BuildInner())

		_, err := v.Validate(wrapper, "M-1")
		verr := requireReason(t, err, message.ReasonChildCount)
		assert.Contains(t, verr.Error(), "found 2")
		assert.Nil(t, verr.Message)
	})

	t.Run("text is not counted", func(t *testing.T) {
		wrapper := testutil.NewReceiptConfirmation().Build()
		wrapper.CreateText("  ")
		wrapper.CreateComment("trailing")

		_, err := v.Validate(wrapper, "M-1")
		assert.NoError(t, err)
	})
}

func TestValidator_Identifier(t *testing.T) {
	v := newValidator(t, map[string]schema.Schema{"3.5": &stubSchema{}})

	t.Run("missing", func(t *testing.T) {
		wrapper := testutil.NewReceiptConfirmation().Without("MessageIdentifier").Build()
		_, err := v.Validate(wrapper, "M-1")
		verr := requireReason(t, err, message.ReasonIdentifierMissing)
		require.NotNil(t, verr.Message)
		assert.Equal(t, "ReceiptConfirmationMessage", verr.Message.Tag)
	})

	t.Run("mismatch on a schema-valid message", func(t *testing.T) {
		wrapper := testutil.NewReceiptConfirmation().Identifier("M-2").Build()
		_, err := v.Validate(wrapper, "M-1")
		verr := requireReason(t, err, message.ReasonIdentifierMismatch)
		assert.Contains(t, verr.Error(), `"M-2"`)
		assert.Contains(t, verr.Error(), `"M-1"`)
	})
}

func TestValidator_TypeVersionMissing(t *testing.T) {
	v := newValidator(t, map[string]schema.Schema{"3.5": &stubSchema{}})

	wrapper := testutil.NewReceiptConfirmation().Without("MessageTypeVersion").Build()
	_, err := v.Validate(wrapper, "M-1")
	requireReason(t, err, message.ReasonTypeVersionMissing)
}

func TestValidator_SchemaNotFound(t *testing.T) {
	v := newValidator(t, map[string]schema.Schema{"3.4": &stubSchema{}})

	_, err := v.Validate(testutil.NewReceiptConfirmation().Build(), "M-1")
	verr := requireReason(t, err, message.ReasonSchemaNotFound)
	assert.Contains(t, verr.Error(), "3.5.0.0")
	assert.NotNil(t, verr.Message)
}

func TestValidator_SchemaViolation(t *testing.T) {
	s := &stubSchema{err: errors.New("Element 'RelatedType': 'x' is not a valid value of the atomic type 'xs:integer'")}
	v := newValidator(t, map[string]schema.Schema{"3.5": s})

	_, err := v.Validate(testutil.NewReceiptConfirmation().Build(), "M-1")
	verr := requireReason(t, err, message.ReasonSchemaViolation)
	assert.Contains(t, verr.Error(), "xs:integer")
}

func TestValidator_ChecksRunInOrder(t *testing.T) {
	// an identifier mismatch is reported before the missing schema
	v := newValidator(t, nil)

	wrapper := testutil.NewReceiptConfirmation().Identifier("other").Build()
	_, err := v.Validate(wrapper, "M-1")
	requireReason(t, err, message.ReasonIdentifierMismatch)
}

func TestExtractHeader(t *testing.T) {
	inner := testutil.NewReceiptConfirmation().Sender("1180").Recipient("0080").BuildInner()

	h := message.ExtractHeader(inner)
	assert.Equal(t, message.Header{
		MessageType:        "300",
		MessageTypeVersion: "3.5.0.0",
		MessageIdentifier:  "M-1",
		MessageDateTime:    "2023-11-08T10:15:43Z",
		Sender:             "1180",
		Recipient:          "0080",
	}, h)
	assert.Equal(t, routing.Criteria{MessageType: "300", MessageTypeVersion: "3.5.0.0", Recipient: "0080"}, h.Criteria())
}

func TestExtractHeader_Namespaced(t *testing.T) {
	raw := `<taf:ReceiptConfirmationMessage xmlns:taf="urn:taf">
  <taf:MessageHeader>
    <taf:MessageReference>
      <taf:MessageType>300</taf:MessageType>
      <taf:MessageTypeVersion>3.5.0.0</taf:MessageTypeVersion>
      <taf:MessageIdentifier>M-9</taf:MessageIdentifier>
      <taf:MessageDateTime>2023-11-08T10:15:43</taf:MessageDateTime>
    </taf:MessageReference>
    <taf:Sender CI_InstanceNumber="01">3080</taf:Sender>
    <taf:Recipient CI_InstanceNumber="01">0080</taf:Recipient>
  </taf:MessageHeader>
</taf:ReceiptConfirmationMessage>`

	el, err := xmlutil.Parse([]byte(raw))
	require.NoError(t, err)

	h := message.ExtractHeader(el)
	assert.Equal(t, "M-9", h.MessageIdentifier)
	assert.Equal(t, "3080", h.Sender)
	assert.Equal(t, "0080", h.Recipient)
}

func TestExtractHeader_Empty(t *testing.T) {
	assert.Equal(t, message.Header{}, message.ExtractHeader(etree.NewElement("Empty")))
}
