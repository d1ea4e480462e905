package controller

import (
	"strconv"
	"strings"

	"codearena/internal/common/http/binding"
	"codearena/internal/common/http/middleware"
	"codearena/internal/language"
	"codearena/internal/submission/repository"
	"codearena/internal/submission/service"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	orchestrator *service.Orchestrator
	queries      *service.QueryService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(orchestrator *service.Orchestrator, queries *service.QueryService) *SubmissionController {
	return &SubmissionController{orchestrator: orchestrator, queries: queries}
}

// Create dispatches a graded submission.
func (h *SubmissionController) Create(c *gin.Context) {
	req, contestID, ok := bindSubmitRequest(c)
	if !ok {
		return
	}
	result, err := h.orchestrator.Create(c.Request.Context(), service.CreateInput{
		UserID:         middleware.UserID(c),
		ProblemName:    req.ProblemName,
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		ContestID:      contestID,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result.Message, result)
}

// Poll returns the live status of one of the caller's submissions.
func (h *SubmissionController) Poll(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	result, err := h.orchestrator.Poll(c.Request.Context(), middleware.UserID(c), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Run executes code against the sample test cases without grading.
func (h *SubmissionController) Run(c *gin.Context) {
	req, contestID, ok := bindSubmitRequest(c)
	if !ok {
		return
	}
	result, err := h.orchestrator.Run(c.Request.Context(), service.RunInput{
		UserID:      middleware.UserID(c),
		ProblemName: req.ProblemName,
		Language:    req.Language,
		SourceCode:  req.SourceCode,
		ContestID:   contestID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// History lists the caller's recent submissions to a problem.
func (h *SubmissionController) History(c *gin.Context) {
	query := service.HistoryQuery{
		UserID:      middleware.UserID(c),
		ProblemName: strings.TrimSpace(c.Query("problemName")),
	}
	if raw := strings.TrimSpace(c.Query("problemId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Error(c, pkgerrors.ValidationError("problemId", "must be a positive integer"))
			return
		}
		query.ProblemID = id
	}
	contestID, err := binding.NewOptionalID(c.Query("contestId")).Int64()
	if err != nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return
	}
	query.ContestID = contestID

	items, err := h.queries.History(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// Stats returns the caller's totals.
func (h *SubmissionController) Stats(c *gin.Context) {
	stats, err := h.queries.Stats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// Leaderboard returns global or per-contest standings.
func (h *SubmissionController) Leaderboard(c *gin.Context) {
	contestID, err := binding.NewOptionalID(c.Query("contestId")).Int64()
	if err != nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return
	}
	rows, err := h.queries.Leaderboard(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, LeaderboardResponse{Leaderboard: rows})
}

// bindSubmitRequest decodes and validates a create or run payload. The language is checked
// before the contest id so an unsupported language is reported first.
func bindSubmitRequest(c *gin.Context) (*SubmitRequest, *int64, bool) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return nil, nil, false
	}
	if _, err := language.Parse(req.Language); err != nil {
		response.Error(c, pkgerrors.New(pkgerrors.LanguageNotSupported).WithDetail("supported", language.Names()))
		return nil, nil, false
	}
	contestID, err := req.ContestID.Int64()
	if err != nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return nil, nil, false
	}
	if err := req.Validate(); err != nil {
		response.Error(c, binding.ValidationError(err))
		return nil, nil, false
	}
	return &req, contestID, true
}

// SubmitRequest defines the create and run payload.
type SubmitRequest struct {
	SourceCode  string             `json:"source_code"`
	Language    string             `json:"language"`
	ProblemName string             `json:"problemName"`
	ContestID   binding.OptionalID `json:"contestId"`
}

func (r SubmitRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceCode, validation.Required),
		validation.Field(&r.ProblemName, validation.Required, validation.Length(1, 128)),
	)
}

// LeaderboardResponse wraps the ranked rows.
type LeaderboardResponse struct {
	Leaderboard []repository.LeaderboardRow `json:"leaderboard"`
}
