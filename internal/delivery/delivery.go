// Package delivery sends queued entries to their destination hosts over SOAP
// and classifies the outcome for the consumer.
package delivery

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/beevik/etree"

	"li-gateway/internal/ack"
	"li-gateway/internal/circuitbreaker"
	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/queue"
	"li-gateway/internal/soap"
	"li-gateway/internal/xmlutil"
)

const (
	UICNamespace       = "http://uic.cc.org/UICMessage"
	ConnectorNamespace = "http://uic.cc.org/UICConnector"

	actionUICMessage  = "UICMessage"
	actionSendInbound = "sendInboundMessage"
	connectorSuccess  = "success"
)

// Config holds the values the gateway reports about itself.
type Config struct {
	// MessageLIHost is sent as messageLiHost on passthrough deliveries.
	MessageLIHost string
}

// Client delivers entries. Calls to each host pass through that host's
// circuit breaker.
type Client struct {
	soap     *soap.Client
	breakers *circuitbreaker.GoBreakerManager
	cfg      Config
	logger   logging.Logger
}

var _ queue.Deliverer = (*Client)(nil)

func NewClient(soapClient *soap.Client, breakers *circuitbreaker.GoBreakerManager, cfg Config, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{
		soap:     soapClient,
		breakers: breakers,
		cfg:      cfg,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "delivery"}),
	}
}

// Deliver sends entry to host. The returned error, if any, is an AppError
// whose type tells the consumer how to settle the entry.
func (c *Client) Deliver(ctx context.Context, host hosts.Host, entry queue.Entry) error {
	payload, err := xmlutil.Parse(entry.Payload)
	if err != nil {
		return errors.RequestCreationError(fmt.Sprintf("payload of %s is not XML", entry.MessageID), err)
	}

	var (
		request *etree.Element
		action  string
		read    func(*soap.Envelope) error
	)
	switch deliveryType(host, entry) {
	case queue.TypePassthrough:
		request, action, read = c.passthroughRequest(entry.MessageID, payload), actionUICMessage, readAck
	case queue.TypeConnector:
		request, action, read = connectorRequest(payload), actionSendInbound, readConnectorResponse
	default:
		return errors.RequestCreationError(fmt.Sprintf("unknown delivery type %q", entry.DeliveryType), nil)
	}

	endpoint := host.MessagingURL()
	if err := soap.ValidateEndpoint(endpoint); err != nil {
		return errors.UnrecoverableHostError(host.Name, err)
	}

	logger := logging.ForMessage(logging.ForHost(c.logger, host.Name), entry.MessageID)
	err = c.breakers.Execute(ctx, host.Name, func() error {
		env, err := c.soap.Call(ctx, endpoint, action, request)
		if err != nil {
			return classify(host.Name, err)
		}
		return read(env)
	})
	if err != nil {
		logger.Debug("Delivery failed",
			logging.Err(err),
			logging.Field{Key: "error_type", Value: string(errors.GetType(err))},
		)
		return err
	}

	logger.Debug("Delivery succeeded", logging.Field{Key: "action", Value: action})
	return nil
}

func deliveryType(host hosts.Host, entry queue.Entry) string {
	if entry.DeliveryType != "" {
		return entry.DeliveryType
	}
	if host.IsPassthrough {
		return queue.TypePassthrough
	}
	return queue.TypeConnector
}

func (c *Client) passthroughRequest(messageID string, payload *etree.Element) *etree.Element {
	req := soap.NewElement("uic", UICNamespace, "UICMessage")
	req.CreateElement("message").AddChild(payload)
	req.CreateElement("messageIdentifier").SetText(messageID)
	req.CreateElement("messageLiHost").SetText(c.cfg.MessageLIHost)
	req.CreateElement("compressed").SetText("false")
	req.CreateElement("encrypted").SetText("false")
	req.CreateElement("signed").SetText("false")
	return req
}

func connectorRequest(payload *etree.Element) *etree.Element {
	req := soap.NewElement("con", ConnectorNamespace, "sendInboundMessage")
	req.CreateElement("message").AddChild(payload)
	req.CreateElement("encoded").SetText("false")
	return req
}

func readAck(env *soap.Envelope) error {
	a, err := ack.Parse(env.Body())
	if err != nil {
		return errors.ResponseProcessingError("response carries no usable technical ack", err)
	}
	if !a.IsACK() {
		return errors.MessageRejectedError(fmt.Sprintf("host answered %s for %s", a.ResponseStatus, a.AckIdentifier))
	}
	return nil
}

func readConnectorResponse(env *soap.Envelope) error {
	payload, err := env.Payload()
	if err != nil {
		return errors.MessageRejectedError("connector returned an empty response")
	}

	text, ok := xmlutil.ChildText(payload, "return")
	if !ok {
		text, _ = xmlutil.ChildText(payload, "response")
	}
	if text != connectorSuccess {
		return errors.MessageRejectedError(fmt.Sprintf("connector answered %q", text))
	}
	return nil
}

// classify maps a SOAP call failure to the delivery error taxonomy.
func classify(host string, err error) error {
	var fault *soap.Fault
	switch {
	case stderrors.As(err, &fault):
		return errors.MessageRejectedError(fmt.Sprintf("host %s returned a fault: %s", host, fault.String)).
			WithContext("faultcode", fault.Code)
	case stderrors.Is(err, soap.ErrInvalidEndpoint):
		return errors.UnrecoverableHostError(host, err)
	case stderrors.Is(err, soap.ErrMalformedResponse):
		return errors.ResponseProcessingError(fmt.Sprintf("host %s sent a malformed response", host), err)
	default:
		return errors.HostUnreachableError(host, err)
	}
}
