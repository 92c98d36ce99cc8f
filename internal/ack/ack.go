// Package ack builds and reads LI_TechnicalAck documents, the technical
// acknowledgment returned for every inbound message.
package ack

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"li-gateway/internal/message"
	"li-gateway/internal/xmlutil"
)

const (
	ElementName         = "LI_TechnicalAck"
	TransportWebService = "WEBSERVICE"

	identifierPrefix = "ACKID"
)

var (
	// ErrInvalidTimestamp is returned when the source MessageDateTime is not
	// an xsd:dateTime.
	ErrInvalidTimestamp = errors.New("invalid message timestamp")

	// ErrNoAck is returned by Parse when no LI_TechnicalAck is present.
	ErrNoAck = errors.New("no LI_TechnicalAck element")

	// ErrInvalidAck is returned by Parse for an ack with bad field values.
	ErrInvalidAck = errors.New("invalid LI_TechnicalAck")
)

// Status is the ResponseStatus of an ack.
type Status string

const (
	StatusACK  Status = "ACK"
	StatusNACK Status = "NACK"
)

// MessageReference identifies the acknowledged message.
type MessageReference struct {
	MessageType        string
	MessageTypeVersion string
	MessageIdentifier  string
	MessageDateTime    string
}

// TechnicalAck is the acknowledgment of one inbound message.
type TechnicalAck struct {
	AckIdentifier        string
	ResponseStatus       Status
	MessageReference     MessageReference
	Sender               string
	Recipient            string
	RemoteSystemName     string
	RemoteSystemInstance int
	TransportMechanism   string
}

// IsACK reports whether the ack is positive.
func (a *TechnicalAck) IsACK() bool {
	return a.ResponseStatus == StatusACK
}

// Config names the remote LI system reported in acks.
type Config struct {
	RemoteLIName     string
	RemoteLIInstance int
}

// DefaultConfig returns the remote system used when none is configured.
func DefaultConfig() Config {
	return Config{RemoteLIName: "LIName", RemoteLIInstance: 19}
}

// Builder creates acks for inbound messages.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build creates the ack of messageID. The message reference, sender and
// recipient are read from the header of source.
func (b *Builder) Build(messageID string, success bool, source *etree.Element) (*TechnicalAck, error) {
	h := message.ExtractHeader(source)

	if _, err := ParseDateTime(h.MessageDateTime); err != nil {
		return nil, err
	}

	status := StatusNACK
	if success {
		status = StatusACK
	}

	return &TechnicalAck{
		AckIdentifier:  identifierPrefix + messageID,
		ResponseStatus: status,
		MessageReference: MessageReference{
			MessageType:        h.MessageType,
			MessageTypeVersion: h.MessageTypeVersion,
			MessageIdentifier:  h.MessageIdentifier,
			MessageDateTime:    h.MessageDateTime,
		},
		Sender:               h.Sender,
		Recipient:            h.Recipient,
		RemoteSystemName:     b.cfg.RemoteLIName,
		RemoteSystemInstance: b.cfg.RemoteLIInstance,
		TransportMechanism:   TransportWebService,
	}, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseDateTime parses an xsd:dateTime with or without fraction and zone.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// Element encodes the ack.
func (a *TechnicalAck) Element() *etree.Element {
	el := etree.NewElement(ElementName)
	el.CreateElement("ResponseStatus").SetText(string(a.ResponseStatus))
	el.CreateElement("AckIndentifier").SetText(a.AckIdentifier)

	ref := el.CreateElement("MessageReference")
	ref.CreateElement("MessageType").SetText(a.MessageReference.MessageType)
	ref.CreateElement("MessageTypeVersion").SetText(a.MessageReference.MessageTypeVersion)
	ref.CreateElement("MessageIdentifier").SetText(a.MessageReference.MessageIdentifier)
	ref.CreateElement("MessageDateTime").SetText(a.MessageReference.MessageDateTime)

	el.CreateElement("Sender").SetText(a.Sender)
	el.CreateElement("Recipient").SetText(a.Recipient)
	el.CreateElement("RemoteLIName").SetText(a.RemoteSystemName)
	el.CreateElement("RemoteLIInstanceNumber").SetText(strconv.Itoa(a.RemoteSystemInstance))
	el.CreateElement("MessageTransportMechanism").SetText(a.TransportMechanism)
	return el
}

// Parse decodes the first LI_TechnicalAck at or below el.
func Parse(el *etree.Element) (*TechnicalAck, error) {
	if el == nil {
		return nil, ErrNoAck
	}
	if el.Tag != ElementName {
		el = xmlutil.FindDescendant(el, ElementName)
		if el == nil {
			return nil, ErrNoAck
		}
	}

	a := &TechnicalAck{}
	status, _ := xmlutil.ChildText(el, "ResponseStatus")
	switch Status(status) {
	case StatusACK, StatusNACK:
		a.ResponseStatus = Status(status)
	default:
		return nil, fmt.Errorf("%w: response status %q", ErrInvalidAck, status)
	}

	a.AckIdentifier, _ = xmlutil.ChildText(el, "AckIndentifier")
	if ref := xmlutil.FindChild(el, "MessageReference"); ref != nil {
		a.MessageReference.MessageType, _ = xmlutil.ChildText(ref, "MessageType")
		a.MessageReference.MessageTypeVersion, _ = xmlutil.ChildText(ref, "MessageTypeVersion")
		a.MessageReference.MessageIdentifier, _ = xmlutil.ChildText(ref, "MessageIdentifier")
		a.MessageReference.MessageDateTime, _ = xmlutil.ChildText(ref, "MessageDateTime")
	}
	a.Sender, _ = xmlutil.ChildText(el, "Sender")
	a.Recipient, _ = xmlutil.ChildText(el, "Recipient")
	a.RemoteSystemName, _ = xmlutil.ChildText(el, "RemoteLIName")
	a.TransportMechanism, _ = xmlutil.ChildText(el, "MessageTransportMechanism")

	if v, ok := xmlutil.ChildText(el, "RemoteLIInstanceNumber"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: instance number %q", ErrInvalidAck, v)
		}
		a.RemoteSystemInstance = n
	}

	return a, nil
}
