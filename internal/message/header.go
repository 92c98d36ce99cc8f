package message

import (
	"li-gateway/internal/routing"
	"li-gateway/internal/xmlutil"

	"github.com/beevik/etree"
)

// Header holds the protocol header fields of a message. Missing fields are
// left empty.
type Header struct {
	MessageType        string
	MessageTypeVersion string
	MessageIdentifier  string
	MessageDateTime    string
	Sender             string
	Recipient          string
}

// ExtractHeader reads the MessageReference and MessageHeader fields of el by
// local name.
func ExtractHeader(el *etree.Element) Header {
	var h Header

	if ref := xmlutil.FindDescendant(el, "MessageReference"); ref != nil {
		h.MessageType, _ = xmlutil.ChildText(ref, "MessageType")
		h.MessageTypeVersion, _ = xmlutil.ChildText(ref, "MessageTypeVersion")
		h.MessageIdentifier, _ = xmlutil.ChildText(ref, "MessageIdentifier")
		h.MessageDateTime, _ = xmlutil.ChildText(ref, "MessageDateTime")
	}

	if hdr := xmlutil.FindDescendant(el, "MessageHeader"); hdr != nil {
		h.Sender, _ = xmlutil.ChildText(hdr, "Sender")
		h.Recipient, _ = xmlutil.ChildText(hdr, "Recipient")
	}

	return h
}

// Criteria returns the routing tuple of the header.
func (h Header) Criteria() routing.Criteria {
	return routing.Criteria{
		MessageType:        h.MessageType,
		MessageTypeVersion: h.MessageTypeVersion,
		Recipient:          h.Recipient,
	}
}
