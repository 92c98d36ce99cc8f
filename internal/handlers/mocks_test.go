package handlers_test

import (
	"context"
	"sync"

	"github.com/beevik/etree"

	"li-gateway/internal/ack"
	"li-gateway/internal/gateway"
)

type mockProcessor struct {
	mu       sync.Mutex
	requests []gateway.Request
	outbound []*etree.Element

	ProcessFunc         func(req gateway.Request) (*ack.TechnicalAck, error)
	ProcessOutboundFunc func(msg *etree.Element) bool
}

func (m *mockProcessor) Process(ctx context.Context, req gateway.Request) (*ack.TechnicalAck, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(req)
	}
	return &ack.TechnicalAck{AckIdentifier: "ACKID" + req.MessageIdentifier, ResponseStatus: ack.StatusACK}, nil
}

func (m *mockProcessor) ProcessOutbound(ctx context.Context, msg *etree.Element) bool {
	m.mu.Lock()
	m.outbound = append(m.outbound, msg)
	m.mu.Unlock()
	if m.ProcessOutboundFunc != nil {
		return m.ProcessOutboundFunc(msg)
	}
	return true
}

func (m *mockProcessor) Requests() []gateway.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateway.Request(nil), m.requests...)
}

type mockConsumers struct {
	mu        sync.Mutex
	consuming map[string]bool
	resumed   []string

	ResumeErr error
}

func newMockConsumers(consuming ...string) *mockConsumers {
	m := &mockConsumers{consuming: make(map[string]bool)}
	for _, name := range consuming {
		m.consuming[name] = true
	}
	return m
}

func (m *mockConsumers) IsConsuming(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consuming[name]
}

func (m *mockConsumers) ResumeHost(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, name)
	if m.ResumeErr != nil {
		return m.ResumeErr
	}
	m.consuming[name] = true
	return nil
}

func (m *mockConsumers) Resumed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resumed...)
}
