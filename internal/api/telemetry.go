package api

import (
	"net/http"
	"strconv"

	"codeberg.org/mutker/laptopctl/internal/sensor"
	"github.com/gin-gonic/gin"
)

const defaultHistory = 60

type snapshotResponse struct {
	Snapshot    sensor.Snapshot `json:"snapshot"`
	NoData      bool            `json:"no_data"`
	SensorError string          `json:"sensor_error,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

func (h *Handler) getSnapshot(c *gin.Context) {
	snap := h.svc.GetSnapshot()
	resp := snapshotResponse{Snapshot: snap, NoData: snap.NoData()}
	if err := h.svc.SensorError(); err != nil {
		resp.SensorError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// parseCount reads ?n= and falls back to defaultHistory.
func parseCount(c *gin.Context) (int, bool) {
	s := c.Query("n")
	if s == "" {
		return defaultHistory, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (h *Handler) getHistory(c *gin.Context) {
	n, ok := parseCount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": h.svc.GetHistory(n)})
}

func (h *Handler) getHistoryCSV(c *gin.Context) {
	n, ok := parseCount(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="history.csv"`)
	c.Status(http.StatusOK)
	if err := sensor.WriteCSV(c.Writer, h.svc.GetHistory(n)); err != nil {
		h.log.Error().Err(err).Msg("Failed to write history CSV")
	}
}
