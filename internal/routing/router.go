package routing

import (
	"sync/atomic"
)

// Wildcard matches any value, including an absent one.
const Wildcard = "*"

// Criteria is the tuple extracted from a validated message that routing
// decisions are made on.
type Criteria struct {
	MessageType        string
	MessageTypeVersion string
	Recipient          string
}

// Route is one row of the static route table.
type Route struct {
	MessageType        string `json:"messageType" validate:"route_field"`
	MessageTypeVersion string `json:"messageTypeVersion" validate:"route_field"`
	Recipient          string `json:"recipient" validate:"route_field"`
	Destination        string `json:"destination" validate:"required,queue_name"`
}

// Matches reports whether the rule applies to the criteria.
func (r Route) Matches(c Criteria) bool {
	return fieldMatches(r.MessageType, c.MessageType) &&
		fieldMatches(r.MessageTypeVersion, c.MessageTypeVersion) &&
		fieldMatches(r.Recipient, c.Recipient)
}

func fieldMatches(rule, value string) bool {
	return rule == Wildcard || rule == value
}

// Router resolves destinations for routing criteria.
type Router interface {
	ResolveDestination(c Criteria) (string, bool)
}

// TableRouter is a first-match-wins router over an ordered route table.
// The table is copied at construction and never changes afterwards.
type TableRouter struct {
	routes []Route
	hits   []atomic.Int64
	misses atomic.Int64
}

// NewTableRouter creates a router over routes, preserving their order.
func NewTableRouter(routes []Route) *TableRouter {
	table := make([]Route, len(routes))
	copy(table, routes)
	return &TableRouter{
		routes: table,
		hits:   make([]atomic.Int64, len(table)),
	}
}

// ResolveDestination scans the table and returns the destination of the
// first matching rule. ("", false) means no rule matched.
func (t *TableRouter) ResolveDestination(c Criteria) (string, bool) {
	for i, route := range t.routes {
		if route.Matches(c) {
			t.hits[i].Add(1)
			return route.Destination, true
		}
	}
	t.misses.Add(1)
	return "", false
}

// Routes returns a copy of the route table.
func (t *TableRouter) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Stats reports how often each rule matched and how many lookups missed.
type Stats struct {
	RuleHits []int64 `json:"rule_hits"`
	Misses   int64   `json:"misses"`
}

// Stats returns a snapshot of the hit counters.
func (t *TableRouter) Stats() Stats {
	hits := make([]int64, len(t.hits))
	for i := range t.hits {
		hits[i] = t.hits[i].Load()
	}
	return Stats{RuleHits: hits, Misses: t.misses.Load()}
}

// Destinations lists the distinct destinations in table order.
func (t *TableRouter) Destinations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.routes {
		if !seen[r.Destination] {
			seen[r.Destination] = true
			out = append(out, r.Destination)
		}
	}
	return out
}
