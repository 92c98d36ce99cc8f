// Package handlers serves the gateway's HTTP surface: the SOAP endpoints LI
// hosts post messages to and the admin API operators use to inspect and
// reset hosts.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/beevik/etree"

	"li-gateway/internal/ack"
	"li-gateway/internal/circuitbreaker"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/gateway"
	"li-gateway/internal/hosts"
	"li-gateway/internal/journal"
	"li-gateway/internal/routing"
)

// maxRequestSize bounds inbound SOAP requests.
const maxRequestSize = 10 << 20

// Processor runs the inbound pipeline.
type Processor interface {
	Process(ctx context.Context, req gateway.Request) (*ack.TechnicalAck, error)
	ProcessOutbound(ctx context.Context, msg *etree.Element) bool
}

// HostStates exposes the delivery state of every host.
type HostStates interface {
	Snapshot() []hosts.HostStatus
}

// Consumers controls the per-host consumers.
type Consumers interface {
	IsConsuming(name string) bool
	ResumeHost(ctx context.Context, name string) error
}

// HostLookup resolves configured hosts by name.
type HostLookup interface {
	Get(name string) (hosts.Host, bool)
	All() []hosts.Host
}

// RouteTable exposes the static route table and its match counters.
type RouteTable interface {
	Routes() []routing.Route
	Stats() routing.Stats
}

// BreakerStats reports the per-host circuit breakers.
type BreakerStats interface {
	AllStats() []circuitbreaker.Stats
}

// HealthCheck is one named dependency reported by /health.
type HealthCheck struct {
	Name  string
	Check func() error
}

// Handlers holds the dependencies of every endpoint.
type Handlers struct {
	processor Processor
	hosts     HostLookup
	states    HostStates
	consumers Consumers
	routes    RouteTable
	breakers  BreakerStats
	journal   journal.Journal
	checks    []HealthCheck
	logger    logging.Logger
}

func New(
	processor Processor,
	hostLookup HostLookup,
	states HostStates,
	consumers Consumers,
	routes RouteTable,
	breakers BreakerStats,
	j journal.Journal,
	checks []HealthCheck,
	logger logging.Logger,
) *Handlers {
	if j == nil {
		j = journal.Nop()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		processor: processor,
		hosts:     hostLookup,
		states:    states,
		consumers: consumers,
		routes:    routes,
		breakers:  breakers,
		journal:   j,
		checks:    checks,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
