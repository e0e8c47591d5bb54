package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/orchestrator"
	"github.com/jonesrussell/hotel-ingest/internal/taskstate"
)

type startRunRequest struct {
	// RunID resumes an earlier run's work-unit ledger when set.
	RunID string `json:"run_id"`
}

type stopRunRequest struct {
	Reason string `json:"reason"`
}

type hotelSyncRequest struct {
	Continuous bool `json:"continuous"`
}

// startPoiRun launches a collection run in the background. The gate and
// the control slot reject duplicates, so repeated calls are safe.
func (r *Router) startPoiRun(c *gin.Context) {
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	st, err := r.state.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "control slot unavailable"})
		return
	}
	if st.Status == models.TaskRunning || st.Status == models.TaskPaused {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "collection already active",
			"status": st.Status,
			"run_id": st.RunID,
		})
		return
	}

	go func() {
		err := r.poi.Run(r.runCtx, models.TriggerManual, req.RunID)
		if err != nil && !errors.Is(err, orchestrator.ErrRunSkipped) {
			r.log.Error("collection run failed", logger.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "collection started"})
}

func (r *Router) pausePoiRun(c *gin.Context) {
	if err := r.state.Pause(c.Request.Context()); err != nil {
		handleTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "collection paused"})
}

func (r *Router) resumePoiRun(c *gin.Context) {
	if err := r.state.Resume(c.Request.Context()); err != nil {
		handleTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "collection resumed"})
}

func (r *Router) stopPoiRun(c *gin.Context) {
	var req stopRunRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "stopped via API"
	}

	if err := r.state.Stop(c.Request.Context(), req.Reason); err != nil {
		handleTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
}

// poiStatus returns the control slot plus the active run's unit stats.
func (r *Router) poiStatus(c *gin.Context) {
	st, err := r.state.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "control slot unavailable"})
		return
	}

	resp := gin.H{"state": st}
	if st.RunID != "" {
		if stats, err := r.units.Stats(c.Request.Context(), st.RunID); err == nil {
			resp["units"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) runUnits(c *gin.Context) {
	runID := c.Param("runId")
	stats, err := r.units.Stats(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read unit stats"})
		return
	}
	if stats.Total == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no units recorded for run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "units": stats})
}

func (r *Router) clearRunUnits(c *gin.Context) {
	runID := c.Param("runId")
	if err := r.units.Clear(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear units"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "units cleared", "run_id": runID})
}

// startHotelSync launches a hotel sync run in the background.
func (r *Router) startHotelSync(c *gin.Context) {
	var req hotelSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	go func() {
		err := r.hotel.Run(r.runCtx, models.TriggerManual, req.Continuous)
		if err != nil && !errors.Is(err, orchestrator.ErrRunSkipped) {
			r.log.Error("hotel sync failed", logger.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "hotel sync started"})
}

func (r *Router) invalidateSchedules(c *gin.Context) {
	if jobCode := c.Query("job_code"); jobCode != "" {
		r.cache.Invalidate(jobCode)
		c.JSON(http.StatusOK, gin.H{"message": "schedule cache invalidated", "job_code": jobCode})
		return
	}
	r.cache.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"message": "schedule cache invalidated"})
}

// credentialStatus reports the pool's masked per-credential state.
func (r *Router) credentialStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"available":   r.pool.AvailableCount(),
		"credentials": r.pool.Snapshot(),
	})
}

func handleTransitionError(c *gin.Context, err error) {
	if errors.Is(err, taskstate.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "control operation failed"})
}
