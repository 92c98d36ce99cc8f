package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/beevik/etree"

	"li-gateway/internal/ack"
	"li-gateway/internal/common/errors"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/delivery"
	"li-gateway/internal/gateway"
	"li-gateway/internal/soap"
	"li-gateway/internal/xmlutil"
)

const (
	connectorSuccess = "success"
	connectorError   = "error"
)

// HandleUICMessage handles a UICMessage call and answers with a
// UICMessageResponse carrying the technical ack. Calls that cannot be
// acknowledged get a SOAP fault.
// @Summary Receive a UIC message
// @Tags soap
// @Accept xml
// @Produce xml
// @Success 200 {string} string "UICMessageResponse"
// @Failure 500 {string} string "SOAP fault"
// @Router /LIMessageProcessing/http/UICCCMessageProcessing/UICCCMessageProcessingInboundWS [post]
func (h *Handlers) HandleUICMessage(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, "UICMessage")
	if !ok {
		return
	}

	req := gateway.Request{
		Message:           xmlutil.FindChild(payload, "message"),
		MessageIdentifier: childText(payload, "messageIdentifier"),
		MessageLIHost:     childText(payload, "messageLiHost"),
		Compressed:        childBool(payload, "compressed"),
		Encrypted:         childBool(payload, "encrypted"),
		Signed:            childBool(payload, "signed"),
	}

	a, err := h.processor.Process(r.Context(), req)
	if err != nil {
		h.writeFault(w, faultFor(err), err.Error())
		return
	}

	resp := soap.NewElement("uic", delivery.UICNamespace, "UICMessageResponse")
	resp.CreateElement("return").AddChild(a.Element())
	h.writeEnvelope(w, resp)
}

// HandleSendOutboundMessage handles a connector sendOutboundMessage call.
// The response field is "success" when the message was enqueued and
// "error" otherwise.
// @Summary Receive a message from the local connector
// @Tags soap
// @Accept xml
// @Produce xml
// @Success 200 {string} string "sendOutboundMessageResponse"
// @Failure 500 {string} string "SOAP fault"
// @Router /LIMessageProcessing/http/OutboundConnectorService [post]
func (h *Handlers) HandleSendOutboundMessage(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, "sendOutboundMessage")
	if !ok {
		return
	}

	result := connectorError
	if h.processor.ProcessOutbound(r.Context(), xmlutil.FindChild(payload, "message")) {
		result = connectorSuccess
	}

	resp := soap.NewElement("con", delivery.ConnectorNamespace, "sendOutboundMessageResponse")
	resp.CreateElement("response").SetText(result)
	h.writeEnvelope(w, resp)
}

// readPayload parses the request envelope and returns its operation
// element. It writes a client fault and returns false when the request is
// not a call to operation.
func (h *Handlers) readPayload(w http.ResponseWriter, r *http.Request, operation string) (*etree.Element, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		h.writeFault(w, soap.FaultCodeClient, "failed to read request body")
		return nil, false
	}

	env, err := soap.Parse(data)
	if err != nil {
		h.writeFault(w, soap.FaultCodeClient, err.Error())
		return nil, false
	}

	payload, err := env.Payload()
	if err != nil {
		h.writeFault(w, soap.FaultCodeClient, err.Error())
		return nil, false
	}
	if payload.Tag != operation {
		h.writeFault(w, soap.FaultCodeClient, "unknown operation "+payload.Tag)
		return nil, false
	}
	return payload, true
}

func faultFor(err error) string {
	switch {
	case errors.IsType(err, errors.ErrTypeUnsupported),
		errors.IsType(err, errors.ErrTypeValidation),
		stderrors.Is(err, gateway.ErrNoInnerElement),
		stderrors.Is(err, ack.ErrInvalidTimestamp):
		return soap.FaultCodeClient
	default:
		return soap.FaultCodeServer
	}
}

func (h *Handlers) writeEnvelope(w http.ResponseWriter, payload *etree.Element) {
	data, err := soap.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to encode SOAP response", err)
		h.writeFault(w, soap.FaultCodeServer, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", soap.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handlers) writeFault(w http.ResponseWriter, code, reason string) {
	h.logger.Warn("Answering with SOAP fault", logging.Field{Key: "faultcode", Value: code}, logging.Field{Key: "reason", Value: reason})

	data, err := soap.MarshalFault(&soap.Fault{Code: code, String: reason})
	if err != nil {
		http.Error(w, reason, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", soap.ContentType)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(data)
}

func childText(el *etree.Element, local string) string {
	text, _ := xmlutil.ChildText(el, local)
	return text
}

func childBool(el *etree.Element, local string) bool {
	switch strings.ToLower(childText(el, local)) {
	case "true", "1":
		return true
	}
	return false
}
