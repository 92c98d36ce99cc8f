// Package hosts holds the configured destination hosts and tracks the
// delivery health of each one.
package hosts

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"li-gateway/internal/common/validation"
	"li-gateway/internal/csvtable"
)

var (
	// ErrUnknownHost is returned when a host name is not configured
	ErrUnknownHost = errors.New("unknown host")

	// ErrDuplicateHost is returned when a host list names a host twice
	ErrDuplicateHost = errors.New("duplicate host")

	// ErrInvalidHost is returned when a host list row is invalid
	ErrInvalidHost = errors.New("invalid host")
)

// Host is a configured destination. Hosts are identified by Name and never
// modified after loading.
type Host struct {
	Name                     string `json:"name" validate:"required,queue_name"`
	URL                      string `json:"url" validate:"required,url"`
	IsPassthrough            bool   `json:"isPassthrough"`
	MessagingEndpoint        string `json:"messagingEndpoint" validate:"endpoint_path"`
	HeartbeatEndpoint        string `json:"heartbeatEndpoint" validate:"endpoint_path"`
	HeartbeatIntervalSeconds int    `json:"heartbeatInterval" validate:"min=0"`
}

// MessagingURL is the endpoint outbound messages are posted to.
func (h Host) MessagingURL() string {
	return strings.TrimSuffix(h.URL, "/") + h.MessagingEndpoint
}

// HeartbeatURL is the endpoint heartbeats are posted to.
func (h Host) HeartbeatURL() string {
	return strings.TrimSuffix(h.URL, "/") + h.HeartbeatEndpoint
}

// HasHeartbeat reports whether the host is polled.
func (h Host) HasHeartbeat() bool {
	return h.HeartbeatIntervalSeconds != 0
}

// Registry is the immutable set of configured hosts, indexed by name.
type Registry struct {
	hosts map[string]Host
	order []string
}

// NewRegistry indexes hosts by name. Duplicate names are rejected.
func NewRegistry(hosts []Host) (*Registry, error) {
	r := &Registry{hosts: make(map[string]Host, len(hosts))}
	for _, h := range hosts {
		if _, exists := r.hosts[h.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHost, h.Name)
		}
		r.hosts[h.Name] = h
		r.order = append(r.order, h.Name)
	}
	return r, nil
}

// Get returns the host with the given name.
func (r *Registry) Get(name string) (Host, bool) {
	h, ok := r.hosts[name]
	return h, ok
}

// All returns the hosts in configuration order.
func (r *Registry) All() []Host {
	out := make([]Host, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.hosts[name])
	}
	return out
}

// Names returns the host names sorted alphabetically.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Column names of the host list.
const (
	ColumnName              = "name"
	ColumnURL               = "url"
	ColumnIsPassthrough     = "isPassthrough"
	ColumnMessagingEndpoint = "messagingEndpoint"
	ColumnHeartbeatEndpoint = "heartbeatEndpoint"
	ColumnHeartbeatInterval = "heartbeatInterval"
)

// LoadHosts reads the host list CSV at path.
func LoadHosts(path string) ([]Host, error) {
	rows, err := csvtable.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load hosts from %s: %w", path, err)
	}
	return parseHosts(rows)
}

func parseHosts(rows []csvtable.Row) ([]Host, error) {
	if missing, ok := csvtable.HasColumns(rows, ColumnName, ColumnURL, ColumnIsPassthrough, ColumnMessagingEndpoint); !ok {
		return nil, fmt.Errorf("%w: host list has no %s column", ErrInvalidHost, missing)
	}

	hosts := make([]Host, 0, len(rows))
	for _, row := range rows {
		host, err := parseHost(row)
		if err != nil {
			return nil, fmt.Errorf("%w on line %d: %v", ErrInvalidHost, row.Line, err)
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func parseHost(row csvtable.Row) (Host, error) {
	host := Host{
		Name:              row.Get(ColumnName),
		URL:               row.Get(ColumnURL),
		MessagingEndpoint: row.Get(ColumnMessagingEndpoint),
		HeartbeatEndpoint: row.Get(ColumnHeartbeatEndpoint),
	}

	if v := row.Get(ColumnIsPassthrough); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Host{}, fmt.Errorf("isPassthrough %q is not a boolean", v)
		}
		host.IsPassthrough = b
	}

	if v := row.Get(ColumnHeartbeatInterval); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Host{}, fmt.Errorf("heartbeatInterval %q is not a number", v)
		}
		host.HeartbeatIntervalSeconds = n
	}

	if err := validation.ValidateStruct(&host); err != nil {
		return Host{}, err
	}
	return host, nil
}
