package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
	"li-gateway/internal/routing"
)

// HostView is one entry of the host list.
type HostView struct {
	Name          string      `json:"name"`
	URL           string      `json:"url"`
	IsPassthrough bool        `json:"isPassthrough"`
	Heartbeat     bool        `json:"heartbeat"`
	State         hosts.State `json:"state"`
	Failures      int         `json:"failures"`
	Consuming     bool        `json:"consuming"`
}

// HealthCheck reports the status of the broker, schemas and journal.
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "All dependencies healthy"
// @Failure 503 {object} map[string]interface{} "A dependency is unhealthy"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

// GetHosts lists the configured hosts with their delivery state.
// @Summary List hosts
// @Tags hosts
// @Produce json
// @Success 200 {array} HostView
// @Router /api/hosts [get]
func (h *Handlers) GetHosts(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]hosts.HostStatus)
	for _, s := range h.states.Snapshot() {
		states[s.Name] = s
	}

	views := make([]HostView, 0, len(states))
	for _, host := range h.hosts.All() {
		s := states[host.Name]
		views = append(views, HostView{
			Name:          host.Name,
			URL:           host.URL,
			IsPassthrough: host.IsPassthrough,
			Heartbeat:     host.HasHeartbeat(),
			State:         s.State,
			Failures:      s.Failures,
			Consuming:     h.consumers.IsConsuming(host.Name),
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// RouteView is one rule of the route table with its match count.
type RouteView struct {
	routing.Route
	Hits int64 `json:"hits"`
}

// RoutesView is the route table as reported by the admin API.
type RoutesView struct {
	Routes []RouteView `json:"routes"`
	Misses int64       `json:"misses"`
}

// GetRoutes lists the route table in match order with hit counters.
// @Summary List routes
// @Tags routing
// @Produce json
// @Success 200 {object} RoutesView
// @Router /api/routes [get]
func (h *Handlers) GetRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.routes.Routes()
	stats := h.routes.Stats()

	views := make([]RouteView, 0, len(routes))
	for i, route := range routes {
		view := RouteView{Route: route}
		if i < len(stats.RuleHits) {
			view.Hits = stats.RuleHits[i]
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, RoutesView{Routes: views, Misses: stats.Misses})
}

// GetBreakers lists the circuit breaker of every host that has been called.
// @Summary List circuit breakers
// @Tags hosts
// @Produce json
// @Success 200 {array} circuitbreaker.Stats
// @Router /api/breakers [get]
func (h *Handlers) GetBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.AllStats())
}

// ResetHost returns a host to Active and restarts its consumer.
// @Summary Reset a host
// @Tags hosts
// @Produce json
// @Param name path string true "Host name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Unknown host"
// @Failure 500 {object} map[string]string "Consumer could not be restarted"
// @Router /api/hosts/{name}/reset [post]
func (h *Handlers) ResetHost(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.hosts.Get(name); !ok {
		writeError(w, http.StatusNotFound, "unknown host "+name)
		return
	}

	logger := logging.ForHost(h.logger, name)
	if err := h.consumers.ResumeHost(r.Context(), name); err != nil {
		logger.Error("Manual host reset failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("Host reset by operator")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      name,
		"consuming": h.consumers.IsConsuming(name),
	})
}

// GetMessageEvents returns the journal of one message.
// @Summary Message journal
// @Tags messages
// @Produce json
// @Param id path string true "Message identifier"
// @Success 200 {array} journal.Event
// @Failure 404 {object} map[string]string "No events recorded"
// @Router /api/messages/{id}/events [get]
func (h *Handlers) GetMessageEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, err := h.journal.Events(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to read journal", err, logging.Field{Key: "message_id", Value: id})
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for message "+id)
		return
	}

	writeJSON(w, http.StatusOK, events)
}
