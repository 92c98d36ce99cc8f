package routing

import (
	"fmt"

	"li-gateway/internal/common/validation"
	"li-gateway/internal/csvtable"
)

// Column names of the route table.
const (
	ColumnMessageType        = "messageType"
	ColumnMessageTypeVersion = "messageTypeVersion"
	ColumnRecipient          = "recipient"
	ColumnDestination        = "destination"
)

// LoadRoutes reads the route table CSV at path. Rows keep file order.
func LoadRoutes(path string) ([]Route, error) {
	rows, err := csvtable.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load routes from %s: %w", path, err)
	}
	return parseRoutes(rows)
}

func parseRoutes(rows []csvtable.Row) ([]Route, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyRouteTable
	}
	if missing, ok := csvtable.HasColumns(rows, ColumnMessageType, ColumnMessageTypeVersion, ColumnRecipient, ColumnDestination); !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, missing)
	}

	routes := make([]Route, 0, len(rows))
	for _, row := range rows {
		route := Route{
			MessageType:        row.Get(ColumnMessageType),
			MessageTypeVersion: row.Get(ColumnMessageTypeVersion),
			Recipient:          row.Get(ColumnRecipient),
			Destination:        row.Get(ColumnDestination),
		}
		if err := validation.ValidateStruct(&route); err != nil {
			return nil, fmt.Errorf("%w on line %d: %v", ErrInvalidRoute, row.Line, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}
