// Package httpapi binds the call pipeline operations to JSON over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sales-call-pipeline/internal/audio"
	"sales-call-pipeline/internal/audit"
	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/internal/pipeline"
	"sales-call-pipeline/internal/reporting"
	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadBytes bounds a multipart create request.
const DefaultMaxUploadBytes = 200 << 20

// Parts beyond this spill to temp files.
const multipartMemory = 32 << 20

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call internal services, return JSON.
type Handlers struct {
	Calls    *calls.Service
	Pipeline *pipeline.Service
	Audit    *audit.Service
	Reports  *reporting.Service
	Audio    audio.Storage

	MaxUploadBytes int64
}

// Mount registers the /v1 routes on r.
func (h Handlers) Mount(r gin.IRouter) {
	v1 := r.Group("/v1")

	c := v1.Group("/calls")
	{
		c.POST("", h.CreateCall)
		c.GET("", h.ListCalls)
		c.GET("/:id", h.GetCall)
		c.GET("/:id/events", h.ListEvents)

		c.POST("/:id/transcribe", h.Transcribe)
		c.POST("/:id/analyze", h.Analyze)
		c.POST("/:id/sync-crm", h.SyncCRM)
		c.POST("/:id/process", h.Process)
	}

	rep := v1.Group("/reports")
	{
		rep.GET("/summary", h.Summary)
		rep.GET("/calls.xlsx", h.ExportCalls)
	}
}

// --- Calls ---

// CreateCall accepts JSON metadata, or a multipart form with an optional
// audio_file part that is stored before the call is created.
func (h Handlers) CreateCall(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		in  calls.CreateInput
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		in, err = h.createFromForm(c)
	} else if bindErr := c.ShouldBindJSON(&in); bindErr != nil {
		err = apperr.Validation("invalid json: " + bindErr.Error())
	}
	if err != nil {
		writeError(c, err)
		return
	}

	call, err := h.Calls.Create(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	h.recordCreated(ctx, call)
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) createFromForm(c *gin.Context) (calls.CreateInput, error) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return calls.CreateInput{}, apperr.Validation(fmt.Sprintf("upload exceeds %d bytes", limit))
		}
		return calls.CreateInput{}, apperr.Validation("invalid multipart form: " + err.Error())
	}

	in := calls.CreateInput{
		Title:        c.PostForm("title"),
		RecordedAt:   c.PostForm("recorded_at"),
		Participants: calls.SplitParticipants(c.PostForm("participants")),
		CallType:     c.PostForm("call_type"),
		AudioRef:     c.PostForm("audio_ref"),
		ContactName:  c.PostForm("contact_name"),
		Company:      c.PostForm("company"),
		CRMDealID:    c.PostForm("crm_deal_id"),
		ExternalID:   c.PostForm("external_id"),
	}

	fh, err := c.FormFile("audio_file")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return in, apperr.Validation("invalid multipart form: " + err.Error())
	}

	// Reject bad metadata before storing anything.
	if err := h.Calls.Validate(in); err != nil {
		return in, err
	}
	if h.Audio == nil {
		return in, apperr.Internal("audio storage not configured", nil)
	}
	ct, ok := audio.ContentTypeFor(fh.Filename)
	if !ok {
		return in, apperr.Validation(fmt.Sprintf("unsupported audio file %q", fh.Filename))
	}
	f, err := fh.Open()
	if err != nil {
		return in, apperr.Internal("open upload", err)
	}
	defer f.Close()

	ref, err := h.Audio.Save(c.Request.Context(), fh.Filename, ct, f, fh.Size)
	if err != nil {
		return in, apperr.Internal("store audio", err)
	}
	logger.FromGin(c).Info("audio stored", "audio_ref", ref, "bytes", fh.Size)
	in.AudioRef = ref
	return in, nil
}

func (h Handlers) recordCreated(ctx context.Context, call calls.Call) {
	if h.Audit == nil {
		return
	}
	meta := map[string]any{"has_audio": call.AudioRef != ""}
	if err := h.Audit.Append(ctx, audit.Event{CallID: call.ID, Type: audit.EventTypeCallCreated, Metadata: meta}); err != nil {
		logger.From(ctx).Warn("audit append failed", "call_id", call.ID, "error", err.Error())
	}
}

func (h Handlers) ListCalls(c *gin.Context) {
	list, err := h.Calls.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "count": len(list)})
}

func (h Handlers) GetCall(c *gin.Context) {
	d, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) ListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.Calls.Get(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	if h.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"items": []audit.Event{}, "count": 0})
		return
	}
	events, err := h.Audit.ForCall(ctx, id)
	if err != nil {
		writeError(c, apperr.Internal("load events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "count": len(events)})
}

// --- Stages ---

func (h Handlers) Transcribe(c *gin.Context) {
	t, err := h.Pipeline.Transcribe(c.Request.Context(), c.Param("id"))
	h.stageResponse(c, t, err, err == nil)
}

func (h Handlers) Analyze(c *gin.Context) {
	a, err := h.Pipeline.Analyze(c.Request.Context(), c.Param("id"))
	h.stageResponse(c, a, err, err == nil)
}

// SyncCRM returns the appended log entry even when the CRM call failed.
func (h Handlers) SyncCRM(c *gin.Context) {
	e, err := h.Pipeline.SyncCRM(c.Request.Context(), c.Param("id"))
	h.stageResponse(c, e, err, e.ID != "")
}

// stageResponse writes {status, artifact} or {status, error}. status is the
// call's status after the stage, when the call exists.
func (h Handlers) stageResponse(c *gin.Context, artifact any, err error, hasArtifact bool) {
	body := gin.H{}
	if d, getErr := h.Calls.Get(context.WithoutCancel(c.Request.Context()), c.Param("id")); getErr == nil {
		body["status"] = d.Call.Status
	}
	if hasArtifact {
		body["artifact"] = artifact
	}
	if err == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	abortWithError(c, err, body)
}

func (h Handlers) Process(c *gin.Context) {
	res, err := h.Pipeline.Process(c.Request.Context(), c.Param("id"))
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	if res.CallID == "" {
		writeError(c, err)
		return
	}
	abortWithError(c, err, gin.H{
		"call_id":      res.CallID,
		"stages":       res.Stages,
		"final_status": res.FinalStatus,
	})
}

// --- Reports ---

func (h Handlers) Summary(c *gin.Context) {
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{Range: r})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ExportCalls(c *gin.Context) {
	r, err := parseRange(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := h.Reports.Rows(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := reporting.WriteXLSX(&buf, rows); err != nil {
		writeError(c, apperr.Internal("render xlsx", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=calls-%s.xlsx", time.Now().UTC().Format("20060102")))
	c.Data(http.StatusOK, reporting.XLSXContentType, buf.Bytes())
}

func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	var r reporting.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		raw := strings.TrimSpace(c.Query(p.key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return r, apperr.Validation(fmt.Sprintf("%s must be RFC3339: %q", p.key, raw))
		}
		*p.dst = t
	}
	return r, nil
}
