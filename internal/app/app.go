package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"li-gateway/internal/ack"
	"li-gateway/internal/brokers/rabbitmq"
	"li-gateway/internal/circuitbreaker"
	"li-gateway/internal/common/logging"
	"li-gateway/internal/config"
	"li-gateway/internal/delivery"
	"li-gateway/internal/gateway"
	"li-gateway/internal/heartbeat"
	"li-gateway/internal/hosts"
	"li-gateway/internal/journal"
	"li-gateway/internal/message"
	"li-gateway/internal/queue"
	"li-gateway/internal/routing"
	"li-gateway/internal/schema"
	"li-gateway/internal/soap"
)

// queueInitLimit bounds concurrent queue declarations at startup.
const queueInitLimit = 8

// App holds all the application dependencies
type App struct {
	Config     *config.Config
	Schemas    *schema.Registry
	Hosts      *hosts.Registry
	Router     *routing.TableRouter
	States     *hosts.StateMachine
	Pool       rabbitmq.ConnectionPoolInterface
	Producer   *queue.Producer
	Consumer   *queue.Consumer
	Breakers   *circuitbreaker.GoBreakerManager
	Journal    journal.Journal
	Gateway    *gateway.Gateway
	Heartbeats *heartbeat.Scheduler
	Logger     logging.Logger

	// baseLogger is handed to components, which add their own component field.
	baseLogger   logging.Logger
	brokerHealth func() error
}

// New creates a new application instance with all dependencies. It dials
// RabbitMQ, and an unreachable broker is fatal.
func New(cfg *config.Config) (*App, error) {
	rmqConfig := &rabbitmq.Config{URL: cfg.RabbitMQURL, PoolSize: cfg.RabbitMQPoolSize}
	if err := rmqConfig.Validate(); err != nil {
		return nil, err
	}

	pool, err := rabbitmq.NewConnectionPool(rmqConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	return newApp(cfg, pool, pool.Health)
}

func newApp(cfg *config.Config, pool rabbitmq.ConnectionPoolInterface, brokerHealth func() error) (*App, error) {
	base := logging.GetGlobalLogger()
	app := &App{
		Config:       cfg,
		Pool:         pool,
		Logger:       base.WithFields(logging.Field{Key: "component", Value: "app"}),
		baseLogger:   base,
		brokerHealth: brokerHealth,
	}

	// Initialize components in order of dependency
	if err := app.initializeStatic(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeJournal(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeQueues(context.Background()); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeDelivery()
	app.initializeGateway()

	if err := app.initializeHeartbeats(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// initializeStatic loads schemas, hosts and routes.
func (app *App) initializeStatic() error {
	app.Schemas = schema.NewRegistry(schema.WithLogger(app.baseLogger))
	if err := app.Schemas.Load(app.Config.SchemaDir); err != nil {
		return err
	}

	hostList, err := hosts.LoadHosts(app.Config.HostsFile)
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}
	app.Hosts, err = hosts.NewRegistry(hostList)
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}

	routes, err := routing.LoadRoutes(app.Config.RoutesFile)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	app.Router = routing.NewTableRouter(routes)

	for _, destination := range app.Router.Destinations() {
		if _, ok := app.Hosts.Get(destination); !ok {
			app.Logger.Warn("Route destination is not a configured host", logging.Field{Key: "destination", Value: destination})
		}
	}

	app.Logger.Info("Static configuration loaded",
		logging.Strings("schema_versions", app.Schemas.Versions()),
		logging.Field{Key: "hosts", Value: len(hostList)},
		logging.Field{Key: "routes", Value: len(routes)},
	)
	return nil
}

func (app *App) initializeJournal() error {
	if app.Config.JournalPath == "" {
		app.Journal = journal.Nop()
		return nil
	}

	j, err := journal.Open(app.Config.JournalPath)
	if err != nil {
		return err
	}
	app.Journal = j
	app.Logger.Info("Message journal enabled", logging.Field{Key: "path", Value: app.Config.JournalPath})
	return nil
}

// initializeQueues puts every host into the state machine and declares its
// queues before anything can be enqueued.
func (app *App) initializeQueues(ctx context.Context) error {
	app.States = hosts.NewStateMachine(app.Config.HostAbandonThreshold, app.baseLogger)
	for _, host := range app.Hosts.All() {
		app.States.Initialize(host)
	}

	producer, err := queue.NewProducer(app.Pool, app.Config.QueueRetryDelay, app.baseLogger)
	if err != nil {
		return err
	}
	app.Producer = producer

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queueInitLimit)
	for _, host := range app.Hosts.All() {
		host := host
		g.Go(func() error {
			return producer.InitializeQueue(gctx, host)
		})
	}
	return g.Wait()
}

func (app *App) initializeDelivery() {
	app.Breakers = circuitbreaker.NewGoBreakerManager(breakerConfig(app.Config), app.baseLogger)

	soapClient := soap.NewClient(nil, app.Config.OutboundTimeout, app.baseLogger)
	deliverer := delivery.NewClient(soapClient, app.Breakers, delivery.Config{
		MessageLIHost: app.Config.MessageLIHost,
	}, app.baseLogger)

	app.Consumer = queue.NewConsumer(app.Pool, app.Hosts, app.States, deliverer, app.Producer, app.Journal, queue.ConsumerConfig{
		Prefetch:        app.Config.QueuePrefetch,
		RetryDelay:      app.Config.QueueRetryDelay,
		DeliveryTimeout: app.Config.OutboundTimeout,
	}, app.baseLogger)

	// A host that is Active again starts with a closed breaker.
	app.States.OnTransition(func(host string, from, to hosts.State) {
		if to == hosts.Active {
			app.Breakers.Reset(host)
		}
	})
}

// breakerConfig sizes host breakers to the deliveries that can fail while a
// host is still Active. The first failure makes the host Inactive, so only
// the other in-flight deliveries of the prefetch window reach the breaker.
func breakerConfig(cfg *config.Config) circuitbreaker.Config {
	bc := circuitbreaker.DefaultConfig()
	bc.MaxFailures = min(cfg.QueuePrefetch, cfg.HostAbandonThreshold)
	if bc.MaxFailures < 1 {
		bc.MaxFailures = 1
	}
	return bc
}

func (app *App) initializeGateway() {
	acks := ack.NewBuilder(ack.Config{
		RemoteLIName:     app.Config.RemoteLIName,
		RemoteLIInstance: app.Config.RemoteLIInstance,
	})
	app.Gateway = gateway.New(message.NewValidator(app.Schemas, app.baseLogger), app.Router, app.Hosts, app.States, app.Producer, acks, app.Journal, app.baseLogger)
}

func (app *App) initializeHeartbeats() error {
	if !app.Config.HeartbeatEnabled {
		return nil
	}

	sender := heartbeat.NewSOAPSender(soap.NewClient(nil, app.Config.OutboundTimeout, app.baseLogger), app.baseLogger)
	app.Heartbeats = heartbeat.NewScheduler(sender, app.States, app.Consumer, app.Config.OutboundTimeout, app.baseLogger)
	return app.Heartbeats.Schedule(app.Hosts.All())
}

// Start begins consuming every host queue and starts the heartbeat
// scheduler. A host whose consumer cannot start is logged and left to the
// heartbeat or an operator reset.
func (app *App) Start(ctx context.Context) {
	if app.Config.ConsumerEnabled {
		for _, name := range app.Hosts.Names() {
			if err := app.Consumer.StartConsuming(ctx, name); err != nil {
				logging.ForHost(app.Logger, name).Error("Failed to start consumer", err)
			}
		}
	} else {
		app.Logger.Info("Consumers disabled")
	}

	if app.Heartbeats != nil {
		app.Heartbeats.Start()
	}
}

// Shutdown stops background work: heartbeats first, then the consumers,
// whose in-flight deliveries finish before it returns.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Heartbeats != nil {
		app.Heartbeats.Stop(ctx)
		app.Logger.Info("Heartbeats stopped")
	}

	done := make(chan struct{})
	go func() {
		app.Consumer.Close()
		close(done)
	}()

	select {
	case <-done:
		app.Logger.Info("Consumers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for consumers: %w", ctx.Err())
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Producer != nil {
		app.Producer.Close()
	}
	if app.Journal != nil {
		if err := app.Journal.Close(); err != nil {
			app.Logger.Warn("Error closing journal", logging.Err(err))
		}
	}
	if app.Pool != nil {
		app.Pool.Close()
	}
	if app.Schemas != nil {
		app.Schemas.Close()
	}
}
