package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"codearena/internal/common/mq"
	"codearena/internal/contest/repository"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	EventDisqualificationChanged = "contest.disqualification.changed"
	defaultMaxReasonLength       = 255
)

// DisqualificationEvent is broadcast whenever a flag changes.
type DisqualificationEvent struct {
	EventType    string    `json:"event_type"`
	UserID       string    `json:"user_id"`
	ContestID    int64     `json:"contest_id"`
	Disqualified bool      `json:"disqualified"`
	ChangedAt    time.Time `json:"changed_at"`
}

// ContestService serves contest status, violations and disqualification writes.
type ContestService struct {
	guard        *AdmissionGuard
	disqualified repository.DisqualificationRepository
	violations   repository.ViolationRepository
	cache        *repository.DisqualificationCache
	producer     mq.Producer
	eventTopic   string
	mqTimeout    time.Duration
	now          func() time.Time
}

// ContestServiceConfig wires ContestService.
type ContestServiceConfig struct {
	Guard        *AdmissionGuard
	Disqualified repository.DisqualificationRepository
	Violations   repository.ViolationRepository
	Cache        *repository.DisqualificationCache
	Producer     mq.Producer
	EventTopic   string
	MQTimeout    time.Duration
}

func NewContestService(cfg ContestServiceConfig) *ContestService {
	return &ContestService{
		guard:        cfg.Guard,
		disqualified: cfg.Disqualified,
		violations:   cfg.Violations,
		cache:        cfg.Cache,
		producer:     cfg.Producer,
		eventTopic:   cfg.EventTopic,
		mqTimeout:    cfg.MQTimeout,
		now:          time.Now,
	}
}

// StatusView is a contest window as seen by one user.
type StatusView struct {
	Contest      *repository.Contest
	Status       repository.ContestStatus
	Disqualified bool
}

// Status returns the contest window and the caller's disqualification flag.
func (s *ContestService) Status(ctx context.Context, userID string, contestID int64) (*StatusView, error) {
	contest, err := s.guard.ContestWindow(ctx, contestID)
	if err != nil {
		return nil, err
	}
	flagged, err := s.guard.IsDisqualified(ctx, userID, contestID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Contest:      contest,
		Status:       contest.StatusAt(s.now()),
		Disqualified: flagged,
	}, nil
}

// ReportViolation appends a proctoring signal for the contest.
func (s *ContestService) ReportViolation(ctx context.Context, v *repository.Violation) error {
	v.Reason = strings.TrimSpace(v.Reason)
	if v.Reason == "" {
		return pkgerrors.ValidationError("reason", "required")
	}
	if len(v.Reason) > defaultMaxReasonLength {
		v.Reason = v.Reason[:defaultMaxReasonLength]
	}
	if _, err := s.guard.ContestWindow(ctx, v.ContestID); err != nil {
		return err
	}
	v.CreatedAt = s.now().UTC()
	if err := s.violations.Create(ctx, nil, v); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "record violation failed")
	}
	logger.Info(ctx, "violation recorded",
		zap.Int64("contest_id", v.ContestID),
		zap.Int64("problem_id", v.ProblemID),
		zap.String("reason", v.Reason),
	)
	return nil
}

// SetDisqualification upserts the flag, refreshes caches and notifies other replicas.
func (s *ContestService) SetDisqualification(ctx context.Context, userID string, contestID int64, disqualified bool) (*repository.Disqualification, error) {
	if _, err := s.guard.ContestWindow(ctx, contestID); err != nil {
		return nil, err
	}
	record, err := s.disqualified.Upsert(ctx, nil, userID, contestID, disqualified, s.now())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "update disqualification failed")
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID, contestID)
	}
	s.publish(ctx, DisqualificationEvent{
		EventType:    EventDisqualificationChanged,
		UserID:       userID,
		ContestID:    contestID,
		Disqualified: disqualified,
		ChangedAt:    record.UpdatedAt,
	})
	logger.Info(ctx, "disqualification updated",
		zap.String("target_user_id", userID),
		zap.Int64("contest_id", contestID),
		zap.Bool("disqualified", disqualified),
	)
	return record, nil
}

func (s *ContestService) publish(ctx context.Context, event DisqualificationEvent) {
	if s.producer == nil || s.eventTopic == "" {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Warn(ctx, "encode disqualification event failed", zap.Error(err))
		return
	}
	msg := mq.NewMessage(body)
	msg.ID = event.UserID + ":" + strconv.FormatInt(event.ContestID, 10)
	msg.SetHeader("event_type", event.EventType)

	ctxMQ, cancel := withTimeout(ctx, s.mqTimeout)
	defer cancel()
	if err := s.producer.Publish(ctxMQ, s.eventTopic, msg); err != nil {
		logger.Warn(ctx, "publish disqualification event failed", zap.Error(err))
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
