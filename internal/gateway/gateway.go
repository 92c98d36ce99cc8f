// Package gateway processes inbound LI messages: it validates them, picks a
// destination, enqueues them for delivery and answers with a technical ack.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/beevik/etree"

	"li-gateway/internal/ack"
	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/journal"
	"li-gateway/internal/message"
	"li-gateway/internal/routing"
	"li-gateway/internal/xmlutil"
)

// ErrNoInnerElement is returned when a rejected message has no element an
// ack could be built from.
var ErrNoInnerElement = stderrors.New("message has no inner element")

// Validator checks an inbound message and returns its inner element.
type Validator interface {
	Validate(raw any, messageID string) (*etree.Element, error)
}

// Router resolves the destination of a message.
type Router interface {
	ResolveDestination(c routing.Criteria) (string, bool)
}

// HostLookup resolves configured hosts by name.
type HostLookup interface {
	Get(name string) (hosts.Host, bool)
}

// Admission reports whether a host accepts new messages.
type Admission interface {
	IsAdmissible(name string) bool
}

// Enqueuer publishes a message to the queue of a host.
type Enqueuer interface {
	Enqueue(ctx context.Context, hostName, messageID, messageType string, payload []byte) error
}

// Request is one inbound UICMessage call.
type Request struct {
	Message           *etree.Element
	MessageIdentifier string
	MessageLIHost     string
	Compressed        bool
	Encrypted         bool
	Signed            bool
}

// Gateway runs the inbound pipeline. It is safe for concurrent use.
type Gateway struct {
	validator Validator
	router    Router
	hosts     HostLookup
	admission Admission
	enqueuer  Enqueuer
	acks      *ack.Builder
	journal   journal.Journal
	logger    logging.Logger
}

// New creates a gateway. A nil journal discards events.
func New(
	validator Validator,
	router Router,
	hostLookup HostLookup,
	admission Admission,
	enqueuer Enqueuer,
	acks *ack.Builder,
	j journal.Journal,
	logger logging.Logger,
) *Gateway {
	if j == nil {
		j = journal.Nop()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Gateway{
		validator: validator,
		router:    router,
		hosts:     hostLookup,
		admission: admission,
		enqueuer:  enqueuer,
		acks:      acks,
		journal:   j,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "gateway"}),
	}
}

// Process handles a UICMessage call and returns the ack for the caller.
// Failures that still allow an ack yield a NACK. An error is returned only
// when no ack can be built: unsupported flags, a message without an inner
// element, or an unparseable MessageDateTime. A rejection that cannot be
// acked is returned wrapped with the ack failure.
func (g *Gateway) Process(ctx context.Context, req Request) (*ack.TechnicalAck, error) {
	logger := logging.ForMessage(g.logger, req.MessageIdentifier)
	logger.Debug("Received message", logging.Field{Key: "li_host", Value: req.MessageLIHost})
	g.record(ctx, req.MessageIdentifier, "", journal.EventReceived, req.MessageLIHost)

	if err := checkFlags(req); err != nil {
		logger.Warn("Rejected unsupported message", logging.Err(err))
		g.record(ctx, req.MessageIdentifier, "", journal.EventRejected, err.Error())
		return nil, err
	}

	inner, destination, err := g.dispatch(ctx, req.Message, req.MessageIdentifier)
	success := err == nil
	if err != nil {
		logger.Warn("Message not accepted", logging.Err(err), logging.Field{Key: "type", Value: string(errors.GetType(err))})
		g.record(ctx, req.MessageIdentifier, destination, journal.EventRejected, err.Error())
	}
	if inner == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInnerElement, err)
	}

	a, ackErr := g.acks.Build(req.MessageIdentifier, success, inner)
	if ackErr != nil {
		logger.Error("Failed to build technical ack", ackErr)
		if err != nil {
			return nil, fmt.Errorf("%w (ack not buildable: %w)", err, ackErr)
		}
		return nil, ackErr
	}

	g.record(ctx, req.MessageIdentifier, destination, journal.EventAcked, string(a.ResponseStatus))
	logger.Info("Message answered", logging.Field{Key: "status", Value: string(a.ResponseStatus)}, logging.Field{Key: "destination", Value: destination})
	return a, nil
}

// ProcessOutbound handles a connector sendOutboundMessage call. The message
// identifier is read from the message itself. It reports whether the message
// was enqueued.
func (g *Gateway) ProcessOutbound(ctx context.Context, msg *etree.Element) bool {
	messageID := identifierOf(msg)
	logger := logging.ForMessage(g.logger, messageID)
	logger.Debug("Received outbound connector message")
	g.record(ctx, messageID, "", journal.EventReceived, "connector")

	_, destination, err := g.dispatch(ctx, msg, messageID)
	if err != nil {
		logger.Warn("Outbound connector message not accepted", logging.Err(err), logging.Field{Key: "type", Value: string(errors.GetType(err))})
		g.record(ctx, messageID, destination, journal.EventRejected, err.Error())
		return false
	}

	logger.Info("Outbound connector message accepted", logging.Field{Key: "destination", Value: destination})
	return true
}

// dispatch validates, routes and enqueues msg. It returns the inner element
// whenever one could be extracted, even on failure.
func (g *Gateway) dispatch(ctx context.Context, msg *etree.Element, messageID string) (*etree.Element, string, error) {
	inner, err := g.validator.Validate(msg, messageID)
	if err != nil {
		return rejectedInner(err, msg), "", err
	}

	header := message.ExtractHeader(inner)
	destination, ok := g.router.ResolveDestination(header.Criteria())
	if !ok {
		return inner, "", errors.RoutingError("no route matches the message").
			WithContext("message_type", header.MessageType).
			WithContext("version", header.MessageTypeVersion).
			WithContext("recipient", header.Recipient)
	}

	if _, ok := g.hosts.Get(destination); !ok {
		return inner, destination, errors.RoutingError(fmt.Sprintf("destination %s is not a configured host", destination))
	}
	if !g.admission.IsAdmissible(destination) {
		return inner, destination, errors.RoutingError(fmt.Sprintf("destination %s is not accepting messages", destination))
	}

	payload, err := xmlutil.ToBytes(inner)
	if err != nil {
		return inner, destination, errors.InternalError("failed to serialize message", err)
	}

	if err := g.enqueuer.Enqueue(ctx, destination, messageID, header.MessageType, payload); err != nil {
		return inner, destination, err
	}

	g.record(ctx, messageID, destination, journal.EventEnqueued, header.MessageType)
	return inner, destination, nil
}

func checkFlags(req Request) error {
	switch {
	case req.Compressed:
		return errors.UnsupportedError("compressed")
	case req.Encrypted:
		return errors.UnsupportedError("encrypted")
	case req.Signed:
		return errors.UnsupportedError("signed")
	}
	return nil
}

// rejectedInner returns the element a NACK can be built from: the inner
// element the validator extracted or, failing that, the first child of the
// wrapper.
func rejectedInner(err error, msg *etree.Element) *etree.Element {
	var verr *message.ValidationError
	if stderrors.As(err, &verr) && verr.Message != nil {
		return verr.Message
	}
	if msg != nil {
		if children := msg.ChildElements(); len(children) > 0 {
			return children[0]
		}
	}
	return nil
}

func identifierOf(msg *etree.Element) string {
	if msg == nil {
		return ""
	}
	children := msg.ChildElements()
	if len(children) != 1 {
		return ""
	}
	return message.ExtractHeader(children[0]).MessageIdentifier
}

func (g *Gateway) record(ctx context.Context, messageID, host string, event journal.EventType, detail string) {
	if messageID == "" {
		return
	}
	err := g.journal.Record(ctx, journal.Event{
		MessageID: messageID,
		Host:      host,
		Type:      event,
		Detail:    detail,
	})
	if err != nil {
		logging.ForMessage(g.logger, messageID).Warn("Failed to record journal event",
			logging.Err(err),
			logging.Field{Key: "event", Value: string(event)},
		)
	}
}
