package routing

import "errors"

var (
	// ErrInvalidRoute is returned when a route table row is invalid
	ErrInvalidRoute = errors.New("invalid route")

	// ErrEmptyRouteTable is returned when a route file holds no rules
	ErrEmptyRouteTable = errors.New("route table is empty")

	// ErrMissingColumn is returned when a route file header lacks a required column
	ErrMissingColumn = errors.New("route table is missing a column")
)
