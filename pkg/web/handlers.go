// Package web provides HTTP handlers and REST API endpoints for run orchestration.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/pixelsama/AgentifUI-sub002/pkg/services"
)

type APIHandlers struct {
	runs      *services.Runs
	recent    *services.RecentlyUsed
	validator *validator.Validate
}

func NewAPIHandlers(runs *services.Runs, recent *services.RecentlyUsed, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		runs:      runs,
		recent:    recent,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.runs.HealthCheck(c.Context())

	status := "unhealthy"
	message := "AgentifUI API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "AgentifUI API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return unauthorized(c)
	}

	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	response, err := h.runs.Start(c.Context(), services.StartRunRequest{
		OwnerID:         ownerID,
		JobDefinitionID: req.JobDefinitionID,
		Inputs:          req.Inputs,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) GetRunState(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return unauthorized(c)
	}

	jobDefinitionID := c.Query("job_definition_id")
	if jobDefinitionID == "" {
		return badRequest(c, "job_definition_id is required")
	}

	state, err := h.runs.State(ownerID, jobDefinitionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) StopRun(c fiber.Ctx) error {
	return h.lifecycle(c, h.runs.Stop)
}

func (h *APIHandlers) RetryRun(c fiber.Ctx) error {
	return h.lifecycle(c, h.runs.Retry)
}

func (h *APIHandlers) ResetRun(c fiber.Ctx) error {
	return h.lifecycle(c, h.runs.Reset)
}

type lifecycleFunc func(ctx context.Context, ownerID, jobDefinitionID string) (*services.RunResponse, error)

func (h *APIHandlers) lifecycle(c fiber.Ctx, call lifecycleFunc) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return unauthorized(c)
	}

	var req RunTargetRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	response, err := call(c.Context(), ownerID, req.JobDefinitionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(response)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return unauthorized(c)
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job definition ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	records, err := h.runs.History(c.Context(), id, ownerID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": records,
		"count":      len(records),
	})
}

func (h *APIHandlers) ListRecentJobDefinitions(c fiber.Ctx) error {
	ownerID := c.Get(OwnerHeader)
	if ownerID == "" {
		return unauthorized(c)
	}

	return c.JSON(fiber.Map{
		"job_definition_ids": h.recent.List(ownerID),
	})
}
