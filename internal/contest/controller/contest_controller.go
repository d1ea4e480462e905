package controller

import (
	"strings"
	"time"

	"codearena/internal/common/http/binding"
	"codearena/internal/common/http/middleware"
	"codearena/internal/contest/repository"
	"codearena/internal/contest/service"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ContestController handles contest status, violation and disqualification endpoints.
type ContestController struct {
	contestService *service.ContestService
}

// NewContestController creates a new ContestController.
func NewContestController(contestService *service.ContestService) *ContestController {
	return &ContestController{contestService: contestService}
}

// Status returns the contest window and whether the caller is disqualified.
func (h *ContestController) Status(c *gin.Context) {
	contestID, err := binding.NewOptionalID(c.Param("id")).Int64()
	if err != nil || contestID == nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return
	}

	view, err := h.contestService.Status(c.Request.Context(), middleware.UserID(c), *contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{
		ContestID:    view.Contest.ID,
		Title:        view.Contest.Title,
		Status:       string(view.Status),
		StartTime:    view.Contest.StartTime.UTC().Format(time.RFC3339),
		EndTime:      view.Contest.EndTime.UTC().Format(time.RFC3339),
		Disqualified: view.Disqualified,
	})
}

// ReportViolation records a proctoring violation for the caller.
func (h *ContestController) ReportViolation(c *gin.Context) {
	var req ViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, binding.ValidationError(err))
		return
	}
	contestID, err := req.ContestID.Int64()
	if err != nil || contestID == nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return
	}
	problemID, err := req.ProblemID.Int64()
	if err != nil || problemID == nil {
		response.Error(c, pkgerrors.ValidationError("problemId", "must be a positive integer"))
		return
	}

	violation := &repository.Violation{
		UserID:    middleware.UserID(c),
		ContestID: *contestID,
		ProblemID: *problemID,
		Reason:    req.Reason,
	}
	if err := h.contestService.ReportViolation(c.Request.Context(), violation); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Violation reported successfully", violation)
}

// SetDisqualification upserts a disqualification flag. Callers may flag themselves;
// lifting a flag or targeting another user requires the admin role.
func (h *ContestController) SetDisqualification(c *gin.Context) {
	var req DisqualificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, binding.ValidationError(err))
		return
	}
	contestID, err := req.ContestID.Int64()
	if err != nil || contestID == nil {
		response.Error(c, pkgerrors.New(pkgerrors.InvalidContestID))
		return
	}

	caller := middleware.UserID(c)
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = caller
	}
	if (target != caller || !*req.Disqualified) && middleware.Role(c) != middleware.RoleAdmin {
		response.Error(c, pkgerrors.ForbiddenError("only admins can lift a disqualification or target another user"))
		return
	}

	record, err := h.contestService.SetDisqualification(c.Request.Context(), target, *contestID, *req.Disqualified)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Disqualification status updated successfully", record)
}

// ViolationRequest defines a violation report payload.
type ViolationRequest struct {
	ContestID binding.OptionalID `json:"contestId"`
	ProblemID binding.OptionalID `json:"problemId"`
	Reason    string             `json:"reason"`
}

func (r ViolationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ContestID, validation.By(requirePresent)),
		validation.Field(&r.ProblemID, validation.By(requirePresent)),
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 255)),
	)
}

// DisqualificationRequest defines a disqualification upsert payload.
type DisqualificationRequest struct {
	UserID       string             `json:"userId"`
	ContestID    binding.OptionalID `json:"contestId"`
	Disqualified *bool              `json:"disqualified"`
}

func (r DisqualificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ContestID, validation.By(requirePresent)),
		validation.Field(&r.Disqualified, validation.NotNil),
		validation.Field(&r.UserID, validation.Length(0, 64)),
	)
}

// StatusResponse defines the contest status payload.
type StatusResponse struct {
	ContestID    int64  `json:"contestId"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Disqualified bool   `json:"disqualified"`
}

func requirePresent(value interface{}) error {
	id, ok := value.(binding.OptionalID)
	if !ok || !id.Present() {
		return validation.NewError("validation_required", "cannot be blank")
	}
	return nil
}
