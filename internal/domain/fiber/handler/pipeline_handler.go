package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dwiprasetyo/job-portal/internal/middleware"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/trigger"
	"github.com/dwiprasetyo/job-portal/internal/usecase"
	"github.com/dwiprasetyo/job-portal/internal/util"
)

type PipelineHandler struct {
	uc  *usecase.PipelineUsecase
	bus *trigger.Bus
}

func NewPipelineHandler(uc *usecase.PipelineUsecase, bus *trigger.Bus) *PipelineHandler {
	return &PipelineHandler{uc: uc, bus: bus}
}

func (h *PipelineHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/triggers/job-published", h.TriggerJobPublished)
	app.Post("/triggers/resume-activated", h.TriggerResumeActivated)
	app.Post("/triggers/pair", h.TriggerPair)
	app.Post("/webhooks/delivery", middleware.RateLimiter(100, 1*time.Minute), h.DeliveryWebhook)

	admin := app.Group("/admin")
	admin.Get("/queue/stats", h.QueueStats)
	admin.Get("/queue/jobs/:id", h.GetJob)
	admin.Post("/queue/jobs/:id/retry", h.RetryJob)
	admin.Post("/queue/retry-all-failed", h.RetryAllFailed)
	admin.Get("/cron", h.ListCronJobs)
	admin.Patch("/cron/:name", h.SetCronJobEnabled)
	admin.Post("/cron/:name/run", h.RunCronJobNow)
	admin.Get("/matches/stats", h.MatchStats)
}

func (h *PipelineHandler) publish(c *fiber.Ctx, ev trigger.Event) error {
	if err := h.bus.Publish(ev); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusServiceUnavailable,
			Message: "trigger queue is saturated, try again later",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusAccepted,
		Message: "Trigger accepted",
	})
}

func (h *PipelineHandler) TriggerJobPublished(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(gjson.GetBytes(c.Body(), "job_id").String())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "job_id is required",
		}, err)
	}
	return h.publish(c, trigger.Event{Kind: trigger.KindJobPublished, JobID: jobID})
}

func (h *PipelineHandler) TriggerResumeActivated(c *fiber.Ctx) error {
	resumeID, err := uuid.Parse(gjson.GetBytes(c.Body(), "resume_id").String())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "resume_id is required",
		}, err)
	}
	return h.publish(c, trigger.Event{Kind: trigger.KindResumeActivated, ResumeID: resumeID})
}

func (h *PipelineHandler) TriggerPair(c *fiber.Ctx) error {
	body := c.Body()
	resumeID, err := uuid.Parse(gjson.GetBytes(body, "resume_id").String())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "resume_id is required",
		}, err)
	}
	jobID, err := uuid.Parse(gjson.GetBytes(body, "job_id").String())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "job_id is required",
		}, err)
	}
	return h.publish(c, trigger.Event{Kind: trigger.KindPairRequested, ResumeID: resumeID, JobID: jobID})
}

// DeliveryWebhook receives open/click callbacks from the delivery provider.
// The update is idempotent and applies in any job status, even after sent.
func (h *PipelineHandler) DeliveryWebhook(c *fiber.Ctx) error {
	body := c.Body()
	jobID, err := uuid.Parse(gjson.GetBytes(body, "job_id").String())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "job_id is required",
		}, err)
	}

	event := queue.TrackingEvent(gjson.GetBytes(body, "event").String())
	if event != queue.TrackingOpened && event != queue.TrackingClicked {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "event must be opened or clicked",
		}, nil)
	}

	at := time.Now()
	if ts := gjson.GetBytes(body, "timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			at = parsed
		}
	}

	if err := h.uc.Track(c.Context(), jobID, event, at); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return util.ErrorResponse(c, util.ErrorResponseFormat{
				Code:    fiber.StatusNotFound,
				Message: "notification job not found",
			}, err)
		}
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to record tracking event",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Tracking event recorded",
	})
}

func (h *PipelineHandler) QueueStats(c *fiber.Ctx) error {
	stats, err := h.uc.QueueStats(c.Context())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to get queue stats",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Success get queue stats",
		Data:    stats,
	})
}

func (h *PipelineHandler) GetJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "invalid job id",
		}, err)
	}
	job, err := h.uc.GetJob(c.Context(), id)
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusNotFound,
			Message: "notification job not found",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Success get notification job",
		Data:    job,
	})
}

func (h *PipelineHandler) RetryJob(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "invalid job id",
		}, err)
	}
	if err := h.uc.RetryJob(c.Context(), id); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to retry job",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Job reset to pending",
	})
}

func (h *PipelineHandler) RetryAllFailed(c *fiber.Ctx) error {
	count, err := h.uc.RetryAllFailed(c.Context())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to retry failed jobs",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Success retry failed jobs",
		Data:    fiber.Map{"retried_count": count},
	})
}

func (h *PipelineHandler) ListCronJobs(c *fiber.Ctx) error {
	jobs, err := h.uc.ListCronJobs(c.Context())
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to list cron jobs",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Success list cron jobs",
		Data:    jobs,
	})
}

func (h *PipelineHandler) SetCronJobEnabled(c *fiber.Ctx) error {
	enabled := gjson.GetBytes(c.Body(), "enabled")
	if !enabled.Exists() {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "enabled is required",
		}, nil)
	}
	if err := h.uc.SetCronJobEnabled(c.Context(), c.Params("name"), enabled.Bool()); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusNotFound,
			Message: "failed to update cron job",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Cron job updated",
	})
}

func (h *PipelineHandler) RunCronJobNow(c *fiber.Ctx) error {
	if err := h.uc.RunCronJobNow(c.Context(), c.Params("name")); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to run cron job",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Cron job executed",
	})
}

func (h *PipelineHandler) MatchStats(c *fiber.Ctx) error {
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if s := c.Query("from"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			from = parsed
		}
	}
	if s := c.Query("to"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			to = parsed
		}
	}

	stats, err := h.uc.MatchStats(c.Context(), from, to)
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to get match stats",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusOK,
		Message: "Success get match stats",
		Data:    stats,
	})
}
