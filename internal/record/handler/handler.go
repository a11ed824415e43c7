// Package handler exposes census records over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/notify"
	"github.com/censo/censo/backend/go-services/internal/record/service"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/censo/censo/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	mgr   *service.Manager
	notes *notify.Broadcaster

	// host patterns allowed to open watch streams besides the server's own
	originHosts []string
}

// RegisterRecordRoutes mounts the record API under /api/records. notes may
// be nil, in which case the watch stream only carries snapshots.
func RegisterRecordRoutes(r gin.IRouter, mgr *service.Manager, notes *notify.Broadcaster) *Handler {
	h := &Handler{mgr: mgr, notes: notes}
	g := r.Group("/api/records")
	g.GET("", h.list)
	g.GET("/archive", h.archived)
	g.GET("/:date", h.get)
	g.POST("/:date", h.initialize)
	g.PATCH("/:date", h.patch)
	g.PUT("/:date", h.replace)
	g.DELETE("/:date", h.delete)
	g.POST("/:date/refresh", h.refresh)
	g.POST("/:date/sync", h.sync)
	g.POST("/:date/restore", h.restore)
	g.GET("/:date/watch", h.watch)
	return h
}

// AllowOrigins lets pages served from the given origins open watch streams.
// Entries are full origins such as "https://ward.example.org", or "*".
func (h *Handler) AllowOrigins(origins []string) {
	h.originHosts = middleware.OriginHosts(origins)
}

func (h *Handler) list(c *gin.Context) {
	dates, err := h.mgr.Dates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates, "open": h.mgr.Opened()})
}

func (h *Handler) archived(c *gin.Context) {
	dates, err := h.mgr.ArchivedDates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates})
}

func (h *Handler) get(c *gin.Context) {
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	snap := o.Snapshot()
	if snap.Document == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) initialize(c *gin.Context) {
	var req struct {
		From string `json:"from"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	o, err := h.mgr.Initialize(c.Request.Context(), c.Param("date"), req.From)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o.Snapshot())
}

func (h *Handler) patch(c *gin.Context) {
	var p record.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := o.ApplyPatch(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) replace(c *gin.Context) {
	var doc record.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := o.ReplaceAll(c.Request.Context(), &doc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.mgr.Delete(c.Request.Context(), c.Param("date")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) restore(c *gin.Context) {
	o, err := h.mgr.Restore(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o.Snapshot())
}

func (h *Handler) refresh(c *gin.Context) {
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := o.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (h *Handler) sync(c *gin.Context) {
	o, err := h.mgr.Open(c.Request.Context(), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := o.DeepSync(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var te *record.TransientIOError
	switch {
	case errors.Is(err, service.ErrInvalidDate), record.IsMalformed(err):
		status = http.StatusBadRequest
	case record.IsConflict(err), errors.Is(err, record.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, record.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &te), errors.Is(err, record.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("records: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
