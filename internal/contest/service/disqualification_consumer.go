package service

import (
	"context"
	"encoding/json"
	"errors"

	"codearena/internal/common/mq"
	"codearena/internal/contest/repository"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// DisqualificationConsumer drops this replica's cached flag when any replica changes it.
type DisqualificationConsumer struct {
	mq    mq.Consumer
	cache *repository.DisqualificationCache
}

func NewDisqualificationConsumer(consumer mq.Consumer, cache *repository.DisqualificationCache) *DisqualificationConsumer {
	return &DisqualificationConsumer{mq: consumer, cache: cache}
}

// Subscribe registers the handler. group must be unique per replica so every replica sees every event.
func (c *DisqualificationConsumer) Subscribe(ctx context.Context, topic, group string) error {
	if c.mq == nil {
		return errors.New("message queue is nil")
	}
	if c.cache == nil {
		return errors.New("disqualification cache is nil")
	}
	opts := &mq.SubscribeOptions{ConsumerGroup: group, Concurrency: 1, MaxRetries: 1}
	return c.mq.SubscribeWithOptions(ctx, topic, c.HandleMessage, opts)
}

// HandleMessage applies one event. Malformed events are dropped.
func (c *DisqualificationConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	if message == nil {
		return nil
	}
	var event DisqualificationEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		logger.Warn(ctx, "parse disqualification event failed", zap.Error(err))
		return nil
	}
	if event.EventType != EventDisqualificationChanged || event.UserID == "" || event.ContestID <= 0 {
		return nil
	}
	c.cache.InvalidateLocal(event.UserID, event.ContestID)
	return nil
}
