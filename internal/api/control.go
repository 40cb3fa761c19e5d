package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"github.com/gin-gonic/gin"
)

// commandRequest is the body of POST /api/v1/commands. Only the fields of
// the chosen kind are read.
type commandRequest struct {
	Kind     control.Kind      `json:"kind" binding:"required"`
	Governor string            `json:"governor,omitempty"`
	Fan      string            `json:"fan,omitempty"`
	Duty     *float64          `json:"duty,omitempty"`
	Rgb      *control.RgbState `json:"rgb,omitempty"`
	Profile  string            `json:"profile,omitempty"`
}

// command builds a user command. The API never issues guard commands.
func (r commandRequest) command() (control.Command, error) {
	errFactory := errors.New()

	switch r.Kind {
	case control.KindSetGovernor:
		return control.SetGovernor(control.SourceUser, r.Governor), nil
	case control.KindSetFanDuty:
		if r.Duty == nil {
			return control.Command{}, errFactory.WithData(errors.ErrInvalidValue, "duty is required")
		}
		return control.SetFanDuty(control.SourceUser, r.Fan, *r.Duty), nil
	case control.KindSetRgb:
		if r.Rgb == nil {
			return control.Command{}, errFactory.WithData(errors.ErrInvalidValue, "rgb is required")
		}
		return control.SetRgb(control.SourceUser, *r.Rgb), nil
	case control.KindApplyProfile:
		return control.ApplyProfile(control.SourceUser, r.Profile), nil
	default:
		return control.Command{}, errFactory.WithData(errors.ErrInvalidValue, "unknown kind "+string(r.Kind))
	}
}

func (h *Handler) submitCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	cmd, err := req.command()
	if err != nil {
		h.jsonError(c, err)
		return
	}

	if err := h.svc.SubmitCommand(c.Request.Context(), cmd); err != nil {
		h.jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  statusApplied,
		"id":      cmd.ID,
		"command": cmd.Describe(),
	})
}

func (h *Handler) listProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profiles": h.svc.ListProfiles(),
		"active":   h.svc.GetActiveProfile().Name,
	})
}

func (h *Handler) getActiveProfile(c *gin.Context) {
	active := h.svc.GetActiveProfile()
	if active.Name == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no profile applied"})
		return
	}
	c.JSON(http.StatusOK, active)
}

func (h *Handler) getThermal(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":  h.svc.GetThermalState(),
		"alerts": h.svc.GetAlerts(),
	})
}

func (h *Handler) getRgb(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetRgbState())
}

type intervalRequest struct {
	Interval string `json:"interval" binding:"required"`
}

func (h *Handler) getInterval(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"interval": h.svc.Interval().String()})
}

func (h *Handler) setInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	if err := h.svc.SetInterval(d); err != nil {
		h.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interval": d.String()})
}
