package controller

import (
	"codearena/internal/problem/service"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController handles problem HTTP endpoints.
type ProblemController struct {
	problemService *service.ProblemService
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problemService *service.ProblemService) *ProblemController {
	return &ProblemController{problemService: problemService}
}

// Get returns problem metadata with its sample test cases.
func (h *ProblemController) Get(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		response.BadRequest(c, "Invalid problem name")
		return
	}

	detail, err := h.problemService.Detail(c.Request.Context(), name)
	if err != nil {
		response.Error(c, err)
		return
	}

	samples := make([]SampleResponse, 0, len(detail.Samples))
	for _, tc := range detail.Samples {
		samples = append(samples, SampleResponse{
			TestCaseID: tc.Index + 1,
			Input:      tc.Input,
			Output:     tc.Output,
		})
	}
	response.Success(c, ProblemResponse{
		ID:            detail.Problem.ID,
		Name:          detail.Problem.Name,
		Title:         detail.Problem.Title,
		TotalPoints:   detail.Problem.TotalPoints,
		TestCaseCount: detail.TestCaseCount,
		Languages:     detail.Languages,
		Samples:       samples,
	})
}

// ProblemResponse is the public problem payload.
type ProblemResponse struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Title         string           `json:"title"`
	TotalPoints   int              `json:"totalPoints"`
	TestCaseCount int              `json:"testCaseCount"`
	Languages     []string         `json:"languages"`
	Samples       []SampleResponse `json:"samples"`
}

// SampleResponse is one visible test case.
type SampleResponse struct {
	TestCaseID int    `json:"testCaseId"`
	Input      string `json:"input"`
	Output     string `json:"output"`
}
