package testutil

import (
	"github.com/beevik/etree"
)

// Defaults used by MessageBuilder; they match the header of the
// ReceiptConfirmationMessage fixture.
const (
	DefaultMessageID   = "M-1"
	DefaultMessageType = "300"
	DefaultVersion     = "3.5.0.0"
	DefaultDateTime    = "2023-11-08T10:15:43Z"
	DefaultSender      = "3080"
	DefaultRecipient   = "0080"
)

// MessageBuilder helps build inbound protocol messages
type MessageBuilder struct {
	name        string
	messageType string
	version     string
	identifier  string
	dateTime    string
	sender      string
	recipient   string
	omit        map[string]bool
	body        []*etree.Element
	current     *etree.Element
}

// NewMessageBuilder creates a builder for a message with the given root
// element name and type version.
func NewMessageBuilder(name, version string) *MessageBuilder {
	return &MessageBuilder{
		name:        name,
		messageType: DefaultMessageType,
		version:     version,
		identifier:  DefaultMessageID,
		dateTime:    DefaultDateTime,
		sender:      DefaultSender,
		recipient:   DefaultRecipient,
		omit:        make(map[string]bool),
	}
}

// NewReceiptConfirmation returns the builder for the standard fixture: a
// ReceiptConfirmationMessage with one RelatedReference.
func NewReceiptConfirmation() *MessageBuilder {
	return NewMessageBuilder("ReceiptConfirmationMessage", DefaultVersion).
		Element("RelatedReference").
		Text("RelatedType", "2006").
		Text("RelatedIdentifier", "a5423bb0-7e18-11ee-b850-005056b36a19").
		Text("RelatedMessageDateTime", DefaultDateTime)
}

func (b *MessageBuilder) MessageType(t string) *MessageBuilder {
	b.messageType = t
	return b
}

func (b *MessageBuilder) Identifier(id string) *MessageBuilder {
	b.identifier = id
	return b
}

func (b *MessageBuilder) DateTime(dt string) *MessageBuilder {
	b.dateTime = dt
	return b
}

func (b *MessageBuilder) Sender(s string) *MessageBuilder {
	b.sender = s
	return b
}

func (b *MessageBuilder) Recipient(r string) *MessageBuilder {
	b.recipient = r
	return b
}

// Without drops a header field (e.g. "MessageIdentifier") from the output.
func (b *MessageBuilder) Without(field string) *MessageBuilder {
	b.omit[field] = true
	return b
}

// Element starts a new body element after the header.
func (b *MessageBuilder) Element(name string) *MessageBuilder {
	b.current = etree.NewElement(name)
	b.body = append(b.body, b.current)
	return b
}

// Text adds a text child to the current body element, or a top-level text
// element when no body element was started.
func (b *MessageBuilder) Text(name, value string) *MessageBuilder {
	if b.current == nil {
		el := etree.NewElement(name)
		el.SetText(value)
		b.body = append(b.body, el)
		return b
	}
	b.current.CreateElement(name).SetText(value)
	return b
}

// BuildInner returns the message element without the envelope wrapper.
func (b *MessageBuilder) BuildInner() *etree.Element {
	root := etree.NewElement(b.name)

	header := root.CreateElement("MessageHeader")
	ref := header.CreateElement("MessageReference")
	b.text(ref, "MessageType", b.messageType)
	b.text(ref, "MessageTypeVersion", b.version)
	b.text(ref, "MessageIdentifier", b.identifier)
	b.text(ref, "MessageDateTime", b.dateTime)
	b.text(header, "Sender", b.sender)
	b.text(header, "Recipient", b.recipient)

	for _, el := range b.body {
		root.AddChild(el.Copy())
	}
	return root
}

// Build returns the message wrapped in the <message> envelope element.
func (b *MessageBuilder) Build() *etree.Element {
	wrapper := etree.NewElement("message")
	wrapper.AddChild(b.BuildInner())
	return wrapper
}

// String serializes the wrapped message.
func (b *MessageBuilder) String() string {
	doc := etree.NewDocument()
	doc.SetRoot(b.Build())
	s, _ := doc.WriteToString()
	return s
}

func (b *MessageBuilder) text(parent *etree.Element, name, value string) {
	if b.omit[name] {
		return
	}
	parent.CreateElement(name).SetText(value)
}
