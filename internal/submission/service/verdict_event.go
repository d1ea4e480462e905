package service

import (
	"context"
	"encoding/json"
	"time"

	"codearena/internal/common/mq"
	"codearena/internal/submission/repository"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const EventVerdictRecorded = "submission.verdict.recorded"

// VerdictEvent is published once per submission, when it first reaches a terminal status.
type VerdictEvent struct {
	EventType       string    `json:"event_type"`
	SubmissionID    string    `json:"submission_id"`
	UserID          string    `json:"user_id"`
	ProblemID       int64     `json:"problem_id"`
	ContestID       *int64    `json:"contest_id"`
	Status          string    `json:"status"`
	Verdict         string    `json:"verdict"`
	Points          int       `json:"points"`
	PassedTestCases int       `json:"passed_test_cases"`
	TotalTestCases  int       `json:"total_test_cases"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// VerdictPublisher sends verdict events. Publishing is best effort.
type VerdictPublisher struct {
	producer mq.Producer
	topic    string
	timeout  time.Duration
}

func NewVerdictPublisher(producer mq.Producer, topic string, timeout time.Duration) *VerdictPublisher {
	return &VerdictPublisher{producer: producer, topic: topic, timeout: timeout}
}

func (p *VerdictPublisher) Publish(ctx context.Context, s *repository.Submission, at time.Time) {
	if p == nil || p.producer == nil || p.topic == "" || s == nil {
		return
	}
	event := VerdictEvent{
		EventType:       EventVerdictRecorded,
		SubmissionID:    s.ID,
		UserID:          s.UserID,
		ProblemID:       s.ProblemID,
		ContestID:       s.ContestID,
		Status:          s.Status,
		Verdict:         s.Verdict,
		Points:          s.Points,
		PassedTestCases: s.PassedTestCases,
		TotalTestCases:  s.TotalTestCases,
		RecordedAt:      at.UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Warn(ctx, "encode verdict event failed", zap.Error(err))
		return
	}
	message := mq.NewMessage(body)
	message.ID = s.ID
	message.SetHeader("event_type", EventVerdictRecorded)

	ctxMQ, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.Publish(ctxMQ, p.topic, message); err != nil {
		logger.Warn(ctx, "publish verdict event failed", zap.String("submission_id", s.ID), zap.Error(err))
	}
}
