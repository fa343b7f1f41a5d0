package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/notify"
)

// ErrTargetInactive rejects submissions against disabled targets.
var ErrTargetInactive = errors.New("target is not active")

// Port over postgresql.RunRepository.
type RunStore interface {
	Create(ctx context.Context, targetID, ownerID uuid.UUID, kind entity.RunKind, isTestRun bool) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
	CASStatus(ctx context.Context, id uuid.UUID, from, to entity.RunStatus) (bool, error)
	SetErrorMessage(ctx context.Context, id uuid.UUID, errText string) error
}

// Port over postgresql.TimeoutRepository.
type TimeoutRegistry interface {
	Register(ctx context.Context, runID uuid.UUID, timeoutAt time.Time) error
}

// Port over postgresql.TargetRepository.
type TargetStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Target, error)
}

type SubmitService struct {
	runs     RunStore
	timeouts TimeoutRegistry
	targets  TargetStore
	notifier notify.Notifier
	log      *zap.Logger

	pickupPoll time.Duration // test runs: how often to check for pickup
	pickupWait time.Duration // test runs: how long before giving up
	grace      time.Duration // normal runs: wait before initializing
}

func NewSubmitService(runs RunStore, timeouts TimeoutRegistry, targets TargetStore, notifier notify.Notifier, log *zap.Logger) *SubmitService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SubmitService{
		runs:       runs,
		timeouts:   timeouts,
		targets:    targets,
		notifier:   notifier,
		log:        log,
		pickupPoll: 2 * time.Second,
		pickupWait: 45 * time.Second,
		grace:      5 * time.Second,
	}
}

// Submit creates a run for the target and registers its timeout. For
// test runs it then waits for a worker to pick the run up; if none does
// within the wait window, a diagnostic is written to the run but the id
// is still returned, so the caller can keep polling the status endpoint.
func (s *SubmitService) Submit(ctx context.Context, targetID uuid.UUID, isTestRun bool) (uuid.UUID, error) {
	target, err := s.targets.GetByID(ctx, targetID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve target %s: %w", targetID, err)
	}
	if !target.Active {
		return uuid.Nil, ErrTargetInactive
	}

	id, err := s.runs.Create(ctx, target.ID, target.OwnerID, target.Kind, isTestRun)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}

	// The reaper needs a deadline even if everything after this fails.
	if err := s.timeouts.Register(ctx, id, entity.TimeoutFor(isTestRun, time.Now())); err != nil {
		return uuid.Nil, fmt.Errorf("register timeout: %w", err)
	}

	s.notifier.Publish(ctx, notify.EventSubmitted, id, string(target.Kind))
	s.log.Info("run submitted",
		zap.String("run_id", id.String()),
		zap.String("target_id", target.ID.String()),
		zap.Bool("is_test_run", isTestRun))

	if isTestRun {
		s.awaitPickup(ctx, id)
	} else {
		s.graceToInitializing(ctx, id)
	}

	return id, nil
}

// awaitPickup polls until a worker moves the run out of pending. On
// expiry it records a diagnostic so the status endpoint can explain the
// stall, but the submission itself still succeeds.
func (s *SubmitService) awaitPickup(ctx context.Context, id uuid.UUID) {
	deadline := time.Now().Add(s.pickupWait)
	ticker := time.NewTicker(s.pickupPoll)
	defer ticker.Stop()

	for {
		run, err := s.runs.GetByID(ctx, id)
		if err == nil && run.Status != entity.StatusPending {
			return
		}

		if time.Now().After(deadline) {
			msg := fmt.Sprintf("worker did not pick up the job within %s; check that a worker process is running", s.pickupWait)
			if err := s.runs.SetErrorMessage(ctx, id, msg); err != nil {
				s.log.Warn("write pickup diagnostic", zap.String("run_id", id.String()), zap.Error(err))
			}
			s.log.Warn("test run not picked up", zap.String("run_id", id.String()))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// graceToInitializing gives workers a short head start, then flips a
// still-pending run to initializing so pollers of the status endpoint
// see movement. The CAS means a worker that claimed meanwhile wins.
func (s *SubmitService) graceToInitializing(ctx context.Context, id uuid.UUID) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.grace):
	}

	ok, err := s.runs.CASStatus(ctx, id, entity.StatusPending, entity.StatusInitializing)
	if err != nil {
		s.log.Warn("initializing transition", zap.String("run_id", id.String()), zap.Error(err))
		return
	}
	if ok {
		s.log.Info("run still pending after grace, marked initializing", zap.String("run_id", id.String()))
	}
}
