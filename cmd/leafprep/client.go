package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"leafprep/internal/config"
	"leafprep/internal/earthengine"
	"leafprep/internal/ee"
	"leafprep/internal/pipeline"
	"leafprep/internal/store"
	"leafprep/internal/tasks"
)

// eeClient is everything the commands ask of Earth Engine.
type eeClient interface {
	pipeline.Client
	GetAsset(ctx context.Context, id string) (*earthengine.Asset, error)
	ListOperations(ctx context.Context) ([]earthengine.Operation, error)
	CancelOperation(ctx context.Context, name string) error
	ComputeValue(ctx context.Context, expr ee.Expr, out interface{}) error
	ComputeFeatures(ctx context.Context, collection ee.Expr, pageSize int) ([]json.RawMessage, error)
}

// newClient builds the Earth Engine client. Tests replace it.
var newClient = func(c *config.Config) (eeClient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return earthengine.New(earthengine.Options{
		Project:           c.EarthEngine.Project,
		Endpoint:          c.EarthEngine.Endpoint,
		CredentialsFile:   c.EarthEngine.CredentialsFile,
		RequestsPerSecond: c.EarthEngine.RequestsPerSecond,
		Timeout:           c.GetRequestTimeout(),
	})
}

// commandContext bounds a command by --timeout and cancels it on SIGINT or
// SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// session bundles what a task-starting command needs: the client, the
// ledger run and a tracker recording into it.
type session struct {
	client  eeClient
	ledger  *store.Ledger
	run     *store.Run
	tracker *tasks.Tracker
}

func openSession(command string) (*session, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	ledger, err := openLedger()
	if err != nil {
		return nil, err
	}
	run, err := ledger.StartRun(command)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	logger.Debug("Run started", zap.String("run", run.ID), zap.String("command", command))
	tracker, err := resumeTracker(client, ledger, run.ID)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return &session{client: client, ledger: ledger, run: run, tracker: tracker}, nil
}

// resumeTracker returns a tracker that already holds the tasks earlier runs
// left unfinished, so in-flight assets are not exported twice.
func resumeTracker(client eeClient, ledger *store.Ledger, runID string) (*tasks.Tracker, error) {
	tracker, err := tasks.Resume(client, ledger, runID, tasks.WithPollInterval(cfg.GetPollInterval()))
	if err != nil {
		return nil, fmt.Errorf("failed to resume tasks: %w", err)
	}
	if n := tracker.Pending(); n > 0 {
		logger.Info("Resumed unfinished tasks", zap.Int("count", n))
	}
	return tracker, nil
}

// finish records the outcome of the run and closes the ledger. It returns
// runErr unchanged.
func (s *session) finish(runErr error) error {
	if err := s.ledger.FinishRun(s.run.ID, runErr); err != nil {
		logger.Warn("Failed to record run", zap.String("run", s.run.ID), zap.Error(err))
	}
	if err := s.ledger.Close(); err != nil {
		logger.Warn("Failed to close ledger", zap.Error(err))
	}
	return runErr
}

func openLedger() (*store.Ledger, error) {
	return store.Open(cfg.Data.LedgerPath)
}

func commandName(args ...string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
