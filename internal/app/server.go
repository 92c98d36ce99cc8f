package app

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"li-gateway/internal/handlers"
	"li-gateway/internal/server"
)

// Handler builds the HTTP handler with all endpoints configured
func (app *App) Handler() http.Handler {
	h := handlers.New(
		app.Gateway,
		app.Hosts,
		app.States,
		app.Consumer,
		app.Router,
		app.Breakers,
		app.Journal,
		app.healthChecks(),
		app.baseLogger,
	)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Config, app.baseLogger)
	return router
}

// NewServer creates the HTTP server for the application
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile, app.baseLogger)
}

func (app *App) healthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{
		{Name: "schemas", Check: func() error {
			if len(app.Schemas.Versions()) == 0 {
				return fmt.Errorf("no schemas loaded")
			}
			return nil
		}},
		{Name: "journal", Check: app.Journal.Health},
	}
	if app.brokerHealth != nil {
		checks = append(checks, handlers.HealthCheck{Name: "broker", Check: app.brokerHealth})
	}
	return checks
}
