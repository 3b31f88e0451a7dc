package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/common"
	"github.com/suPer8Hu/sensei/internal/synth"
)

var ErrNoJobStore = errors.New("chat: event jobs need a repo")

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type EventInput struct {
	UserID  string
	Kind    synth.EventKind
	Payload map[string]any
	Metrics TradeMetrics
	// IdempotencyKey dedupes submissions per user; empty means always new.
	IdempotencyKey string
}

// SubmitEvent stores an event job and hands it to the queue, or runs it inline
// when no publisher is configured. created is false when the idempotency key
// matched an existing job.
func (s *Service) SubmitEvent(ctx context.Context, in EventInput) (job *EventJob, created bool, err error) {
	if s.repo == nil {
		return nil, false, ErrNoJobStore
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}
	metrics, err := json.Marshal(in.Metrics)
	if err != nil {
		return nil, false, fmt.Errorf("encode metrics: %w", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}

	j := &EventJob{
		ID:      id,
		UserID:  in.UserID,
		Kind:    string(in.Kind),
		Payload: string(payload),
		Metrics: string(metrics),
		Status:  JobQueued,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		j.IdempotencyKey = &key
	}

	j, created, err = s.repo.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return j, false, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishJob(ctx, j.ID); err != nil {
			// a queued row nobody will consume would pin the idempotency key
			err = fmt.Errorf("enqueue job %s: %w", j.ID, err)
			return nil, true, s.failJob(context.WithoutCancel(ctx), j.ID, err)
		}
		return j, true, nil
	}

	// no queue: process in the request
	if err := s.RunEventJob(ctx, j.ID); err != nil {
		s.log.Warn("inline event job failed", zap.String("job_id", j.ID), zap.Error(err))
	}
	j, err = s.repo.GetJobByID(ctx, j.ID)
	return j, true, err
}

func (s *Service) GetEvent(ctx context.Context, id string) (*EventJob, error) {
	if s.repo == nil {
		return nil, ErrNoJobStore
	}
	return s.repo.GetJobByID(ctx, id)
}

// RunEventJob processes one queued job and records its outcome.
func (s *Service) RunEventJob(ctx context.Context, jobID string) error {
	if s.repo == nil {
		return ErrNoJobStore
	}
	jobStart := time.Now()

	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	var payload map[string]any
	var metrics TradeMetrics
	if err := json.Unmarshal([]byte(j.Payload), &payload); err != nil {
		return s.failJob(ctx, jobID, fmt.Errorf("decode payload: %w", err))
	}
	if j.Metrics != "" {
		if err := json.Unmarshal([]byte(j.Metrics), &metrics); err != nil {
			return s.failJob(ctx, jobID, fmt.Errorf("decode metrics: %w", err))
		}
	}

	t0 := time.Now()
	res, err := s.ProcessEvent(ctx, synth.EventKind(j.Kind), payload, metrics)
	genCost := time.Since(t0)
	if err != nil {
		s.log.Warn("job_timing_failed",
			zap.String("job_id", jobID), zap.Duration("gen", genCost), zap.Duration("total", time.Since(jobStart)), zap.Error(err))
		return s.failJob(ctx, jobID, err)
	}

	if err := s.repo.MarkJobSucceeded(ctx, jobID, res.Query, res.Briefing); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		s.log.Info("job_timing", zap.String("job_id", jobID), zap.Duration("gen", genCost), zap.Duration("total", total))
	}
	return nil
}

func (s *Service) failJob(ctx context.Context, jobID string, cause error) error {
	if err := s.repo.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		s.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return cause
}
