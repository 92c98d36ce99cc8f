package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"li-gateway/internal/common/logging"
	"li-gateway/internal/hosts"
)

// HostState is the part of the state machine the scheduler reads and updates.
type HostState interface {
	State(name string) (hosts.State, bool)
	RecordDeliveryFailure(name string)
}

// Resumer brings a recovered host back into service.
type Resumer interface {
	ResumeHost(ctx context.Context, name string) error
}

// Scheduler runs a cron job per host with a heartbeat interval.
type Scheduler struct {
	cron    *cron.Cron
	sender  Sender
	state   HostState
	resumer Resumer
	timeout time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(sender Sender, state HostState, resumer Resumer, timeout time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{Key: "component", Value: "heartbeat"})

	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sender:  sender,
		state:   state,
		resumer: resumer,
		timeout: timeout,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule adds a job for every host with a non-zero heartbeat interval.
// Hosts already scheduled are skipped.
func (s *Scheduler) Schedule(list []hosts.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, host := range list {
		if !host.HasHeartbeat() {
			continue
		}
		if _, exists := s.entries[host.Name]; exists {
			continue
		}

		host := host
		spec := fmt.Sprintf("@every %ds", host.HeartbeatIntervalSeconds)
		id, err := s.cron.AddFunc(spec, func() {
			s.Check(context.Background(), host)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule heartbeat for %s: %w", host.Name, err)
		}
		s.entries[host.Name] = id

		logging.ForHost(s.logger, host.Name).Info("Heartbeat scheduled",
			logging.Field{Key: "interval", Value: spec},
			logging.Field{Key: "endpoint", Value: host.HeartbeatURL()},
		)
	}
	return nil
}

// Scheduled returns the number of hosts with a heartbeat job.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Check sends one heartbeat to host and applies the outcome. A success
// resumes a host that is not Active; a failure counts against a host that is
// already failing and is only logged for an Active host.
func (s *Scheduler) Check(ctx context.Context, host hosts.Host) {
	logger := logging.ForHost(s.logger, host.Name).WithFields(logging.Field{Key: "heartbeat_id", Value: uuid.NewString()})

	state, ok := s.state.State(host.Name)
	if !ok {
		logger.Warn("Heartbeat for uninitialized host skipped")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.sender.Send(callCtx, host)
	cancel()

	if err == nil {
		logger.Debug("Heartbeat succeeded", logging.Field{Key: "state", Value: state.String()})
		if state != hosts.Active {
			logger.Info("Host answered heartbeat, resuming", logging.Field{Key: "state", Value: state.String()})
			if err := s.resumer.ResumeHost(ctx, host.Name); err != nil {
				logger.Error("Failed to resume host", err)
			}
		}
		return
	}

	if state == hosts.Active {
		logger.Warn("Heartbeat failed", logging.Err(err))
		return
	}

	logger.Warn("Heartbeat failed for failing host", logging.Err(err), logging.Field{Key: "state", Value: state.String()})
	s.state.RecordDeliveryFailure(host.Name)
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running checks until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for heartbeats to finish")
	}
}

// cronLogger routes cron's own logging through the gateway logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, err, fields(keysAndValues)...)
}

func fields(keysAndValues []interface{}) []logging.Field {
	out := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, logging.Field{Key: key, Value: keysAndValues[i+1]})
	}
	return out
}
