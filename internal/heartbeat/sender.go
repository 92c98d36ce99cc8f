// Package heartbeat polls hosts that declare a heartbeat endpoint and feeds
// the result into the host state machine.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/soap"
)

const (
	Namespace = "http://uic.cc.org/UICHBMessage"
	Message   = "Are you alive?"

	action = "UICHBMessage"
)

// Sender sends one heartbeat to a host.
type Sender interface {
	Send(ctx context.Context, host hosts.Host) error
}

// SOAPSender sends UICHBMessage requests.
type SOAPSender struct {
	client *soap.Client
	logger logging.Logger
	now    func() time.Time
}

func NewSOAPSender(client *soap.Client, logger logging.Logger) *SOAPSender {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SOAPSender{
		client: client,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "heartbeat_sender"}),
		now:    time.Now,
	}
}

// Send posts a heartbeat to the heartbeat endpoint of host. Any response
// envelope without a fault counts as alive.
func (s *SOAPSender) Send(ctx context.Context, host hosts.Host) error {
	req := soap.NewElement("hb", Namespace, "UICHBMessage")
	req.CreateElement("message").SetText(Message)
	req.CreateElement("properties").SetText("timestamp=" + s.now().UTC().Format(time.RFC3339))

	env, err := s.client.Call(ctx, host.HeartbeatURL(), action, req)
	if err != nil {
		return fmt.Errorf("heartbeat to %s failed: %w", host.Name, err)
	}

	if payload, err := env.Payload(); err == nil {
		logging.ForHost(s.logger, host.Name).Debug("Heartbeat answered",
			logging.Field{Key: "response", Value: payload.Tag},
		)
	}
	return nil
}
