package service

import (
	"context"
	"errors"
	"time"

	"codearena/internal/common/metrics"
	"codearena/internal/contest/repository"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// AdmissionGuard decides whether a user may submit into a contest.
type AdmissionGuard struct {
	contests     repository.ContestRepository
	disqualified repository.DisqualificationRepository
	cache        *repository.DisqualificationCache
	metrics      *metrics.Metrics
}

func NewAdmissionGuard(
	contests repository.ContestRepository,
	disqualified repository.DisqualificationRepository,
	cache *repository.DisqualificationCache,
	m *metrics.Metrics,
) *AdmissionGuard {
	return &AdmissionGuard{
		contests:     contests,
		disqualified: disqualified,
		cache:        cache,
		metrics:      m,
	}
}

// IsDisqualified reports whether the user is flagged for the contest. A missing row means not flagged.
func (g *AdmissionGuard) IsDisqualified(ctx context.Context, userID string, contestID int64) (bool, error) {
	if g.cache != nil {
		flag, found, err := g.cache.Lookup(ctx, userID, contestID)
		if err != nil {
			logger.Warn(ctx, "disqualification cache lookup failed", zap.Int64("contest_id", contestID), zap.Error(err))
		} else if found {
			return flag, nil
		}
	}

	record, err := g.disqualified.Get(ctx, nil, userID, contestID)
	flag := false
	switch {
	case err == nil:
		flag = record.Disqualified
	case errors.Is(err, repository.ErrDisqualificationNotFound):
	default:
		return false, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "get disqualification failed")
	}
	if g.cache != nil {
		g.cache.Store(ctx, userID, contestID, flag)
	}
	return flag, nil
}

// ContestWindow returns the contest with its start and end time.
func (g *AdmissionGuard) ContestWindow(ctx context.Context, contestID int64) (*repository.Contest, error) {
	contest, err := g.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, pkgerrors.New(pkgerrors.ContestNotFound)
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "get contest failed")
	}
	return contest, nil
}

// Admit clears a graded submission: the contest must exist, the user must not be
// disqualified and now must be before the contest end.
func (g *AdmissionGuard) Admit(ctx context.Context, userID string, contestID int64, now time.Time) error {
	contest, err := g.ContestWindow(ctx, contestID)
	if err != nil {
		return err
	}
	if err := g.CheckDisqualified(ctx, userID, contestID); err != nil {
		return err
	}
	if !now.Before(contest.EndTime) {
		g.metrics.AdmissionRejected()
		return pkgerrors.New(pkgerrors.ContestEnded).WithDetail("code", "CONTEST_ENDED")
	}
	return nil
}

// CheckDisqualified fails with Disqualified when the user is flagged.
func (g *AdmissionGuard) CheckDisqualified(ctx context.Context, userID string, contestID int64) error {
	flagged, err := g.IsDisqualified(ctx, userID, contestID)
	if err != nil {
		return err
	}
	if flagged {
		g.metrics.AdmissionRejected()
		return pkgerrors.New(pkgerrors.Disqualified).WithDetail("code", "DISQUALIFIED")
	}
	return nil
}
