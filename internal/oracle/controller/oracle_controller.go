package controller

import (
	"strings"

	"taskoracle/internal/oracle/service"
	"taskoracle/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// OracleController handles task, version and run HTTP endpoints.
type OracleController struct {
	oracleService *service.OracleService
}

// NewOracleController creates a new OracleController.
func NewOracleController(oracleService *service.OracleService) *OracleController {
	return &OracleController{oracleService: oracleService}
}

// Guards are extra handlers placed in front of the expensive routes.
type Guards struct {
	LLM     []gin.HandlerFunc
	Sandbox []gin.HandlerFunc
}

// RegisterRoutes mounts the oracle API on api.
func RegisterRoutes(api *gin.RouterGroup, h *OracleController, guards Guards) {
	llm := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, guards.LLM...), handler)
	}
	run := append(append([]gin.HandlerFunc{}, guards.Sandbox...), h.Run)

	api.POST("/tasks", h.CreateTask)
	api.GET("/tasks/:task_id", h.GetTask)
	api.POST("/tasks/:task_id/versions/spec", llm(h.CreateSpec)...)
	api.POST("/tasks/:task_id/versions", llm(h.NewVersion)...)
	api.GET("/versions/:version_id", h.GetVersion)
	api.POST("/versions/:version_id/confirm", h.Confirm)
	api.POST("/versions/:version_id/generate-tests", llm(h.GenerateTests)...)
	api.POST("/versions/:version_id/run", run...)
	api.POST("/snapshots", h.SaveSnapshot)
	api.GET("/debug/last-spec-call", h.LastSpecCall)
}

// CreateTask handles task creation. The body is optional.
func (h *OracleController) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	taskID, err := h.oracleService.CreateTask(c.Request.Context(), req.ProjectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, CreateTaskResponse{TaskID: taskID})
}

// GetTask lists the versions of a task.
func (h *OracleController) GetTask(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		response.BadRequest(c, "Invalid task id")
		return
	}
	view, err := h.oracleService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// CreateSpec analyzes a task description into a new version.
func (h *OracleController) CreateSpec(c *gin.Context) {
	in, ok := bindSpec(c)
	if !ok {
		return
	}
	res, err := h.oracleService.CreateSpec(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// NewVersion re-analyzes a task and reports the new version number.
func (h *OracleController) NewVersion(c *gin.Context) {
	in, ok := bindSpec(c)
	if !ok {
		return
	}
	versionID, number, err := h.oracleService.NewVersion(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, NewVersionResponse{NewVersionID: versionID, VersionNumber: number})
}

func bindSpec(c *gin.Context) (service.SpecInput, bool) {
	taskID := strings.TrimSpace(c.Param("task_id"))
	var req SpecRequest
	if err := c.ShouldBindJSON(&req); err != nil || taskID == "" {
		response.BadRequest(c, "Invalid request parameters")
		return service.SpecInput{}, false
	}
	return service.SpecInput{
		TaskID:      taskID,
		Description: req.TaskDescription,
		Language:    req.Language,
		Runtime:     req.Runtime,
		Deliverable: req.DeliverableType,
	}, true
}

// GetVersion returns the caller-visible projection of a version.
func (h *OracleController) GetVersion(c *gin.Context) {
	view, err := h.oracleService.GetVersion(c.Request.Context(), c.Param("version_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Confirm records ambiguity selections.
func (h *OracleController) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.oracleService.Confirm(c.Request.Context(), c.Param("version_id"), req.Selections)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GenerateTests builds the test bundle of a confirmed version.
func (h *OracleController) GenerateTests(c *gin.Context) {
	var req GenerateTestsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	res, err := h.oracleService.GenerateTests(c.Request.Context(), c.Param("version_id"), service.GenerateTestsInput{
		PublicCount: req.PublicExamplesCount,
		HiddenCount: req.HiddenTestsCount,
		Difficulty:  req.DifficultyProfile,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Run grades candidate code against a version.
func (h *OracleController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	in := service.RunInput{
		Entrypoint:      req.Entrypoint,
		SnapshotID:      req.CodeSnapshotID,
		CodeText:        req.CodeText,
		CurrentFilePath: req.CurrentFilePath,
		WorkspaceFiles:  req.WorkspaceFiles,
	}
	if req.TimeoutSec != nil {
		in.TimeoutSec = *req.TimeoutSec
	}
	res, err := h.oracleService.Run(c.Request.Context(), c.Param("version_id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SaveSnapshot stores candidate code for later runs.
func (h *OracleController) SaveSnapshot(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	id, err := h.oracleService.SaveSnapshot(c.Request.Context(), service.SnapshotInput{
		CodeText:       req.CodeText,
		WorkspaceFiles: req.WorkspaceFiles,
		Entrypoint:     req.Entrypoint,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SnapshotResponse{SnapshotID: id})
}

// LastSpecCall returns the trace of the latest analysis call.
func (h *OracleController) LastSpecCall(c *gin.Context) {
	call, err := h.oracleService.LastSpecCall(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, call)
}
