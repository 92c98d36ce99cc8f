// Package soap reads and writes SOAP 1.1 envelopes and posts them over HTTP.
package soap

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"li-gateway/internal/xmlutil"
)

const (
	EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	ContentType       = "text/xml; charset=utf-8"

	envelopePrefix = "soapenv"
)

// Fault codes defined by SOAP 1.1.
const (
	FaultCodeClient = envelopePrefix + ":Client"
	FaultCodeServer = envelopePrefix + ":Server"
)

var (
	ErrNotEnvelope = errors.New("document is not a SOAP envelope")
	ErrNoBody      = errors.New("SOAP envelope has no body")
	ErrEmptyBody   = errors.New("SOAP body is empty")
)

// Fault is a SOAP 1.1 fault. It is returned as an error by Client.Call.
type Fault struct {
	Code   string
	String string
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// Envelope is a parsed SOAP message.
type Envelope struct {
	root *etree.Element
	body *etree.Element
}

// Parse reads a SOAP envelope.
func Parse(data []byte) (*Envelope, error) {
	root, err := xmlutil.Parse(data)
	if err != nil {
		return nil, err
	}
	if root.Tag != "Envelope" {
		return nil, fmt.Errorf("%w: root element is %s", ErrNotEnvelope, root.Tag)
	}

	body := xmlutil.FindChild(root, "Body")
	if body == nil {
		return nil, ErrNoBody
	}
	return &Envelope{root: root, body: body}, nil
}

// Body returns the soap Body element.
func (e *Envelope) Body() *etree.Element {
	return e.body
}

// Payload returns the first element inside the body.
func (e *Envelope) Payload() (*etree.Element, error) {
	children := e.body.ChildElements()
	if len(children) == 0 {
		return nil, ErrEmptyBody
	}
	return children[0], nil
}

// Fault returns the fault carried in the body, or nil.
func (e *Envelope) Fault() *Fault {
	el := xmlutil.FindChild(e.body, "Fault")
	if el == nil {
		return nil
	}

	f := &Fault{}
	f.Code, _ = xmlutil.ChildText(el, "faultcode")
	f.String, _ = xmlutil.ChildText(el, "faultstring")
	if detail := xmlutil.FindChild(el, "detail"); detail != nil {
		f.Detail = detail.Text()
		if children := detail.ChildElements(); len(children) > 0 {
			f.Detail, _ = xmlutil.ToString(children[0])
		}
	}
	return f
}

// Build wraps payload in an envelope. A payload that already has a parent
// is copied first.
func Build(payload *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement(envelopePrefix + ":Envelope")
	env.CreateAttr("xmlns:"+envelopePrefix, EnvelopeNamespace)
	env.CreateElement(envelopePrefix + ":Header")
	body := env.CreateElement(envelopePrefix + ":Body")

	if payload != nil {
		if payload.Parent() != nil {
			payload = xmlutil.Detach(payload)
		}
		body.AddChild(payload)
	}
	return doc
}

// Marshal serializes payload wrapped in an envelope.
func Marshal(payload *etree.Element) ([]byte, error) {
	return Build(payload).WriteToBytes()
}

// MarshalFault serializes an envelope carrying f.
func MarshalFault(f *Fault) ([]byte, error) {
	fault := etree.NewElement(envelopePrefix + ":Fault")
	code := f.Code
	if code == "" {
		code = FaultCodeServer
	}
	fault.CreateElement("faultcode").SetText(code)
	fault.CreateElement("faultstring").SetText(f.String)
	if f.Detail != "" {
		fault.CreateElement("detail").SetText(f.Detail)
	}
	return Marshal(fault)
}

// NewElement creates an element in namespace ns, declared with prefix.
func NewElement(prefix, ns, local string) *etree.Element {
	el := etree.NewElement(prefix + ":" + local)
	el.CreateAttr("xmlns:"+prefix, ns)
	return el
}
