package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidpipe/config"
	"vidpipe/job"
	"vidpipe/pipeline"
)

// JobSubmitter starts and cancels pipelines.
type JobSubmitter interface {
	Submit(ctx context.Context, sourcePath string) (*job.Job, error)
	Cancel(jobID string) error
}

// JobReader is the status query side.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error)
}

type Handler struct {
	submitter JobSubmitter
	reader    JobReader
	cfg       *config.Config
	log       *zap.Logger
}

func NewHandler(submitter JobSubmitter, reader JobReader, cfg *config.Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{submitter: submitter, reader: reader, cfg: cfg, log: log}
}

// handleProcessVideo stores the multipart "video" upload and starts its pipeline.
// The response does not wait for the pipeline.
func (h *Handler) handleProcessVideo(c *gin.Context) {
	if limit := h.cfg.MaxUploadSize; limit > 0 {
		if c.Request.ContentLength > limit {
			h.rejectTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "A video file is required in field 'video'"})
		return
	}

	dst := filepath.Join(h.cfg.UploadDir, job.NewID()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error("saving upload failed", zap.String("file", file.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	j, err := h.submitter.Submit(c.Request.Context(), dst)
	if err != nil {
		h.log.Error("submitting job failed", zap.String("source", dst), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	h.log.Info("upload accepted",
		zap.String("job_id", j.ID),
		zap.String("file", file.Filename),
		zap.String("size", datasize.ByteSize(file.Size).HR()),
	)
	c.JSON(http.StatusAccepted, gin.H{"jobId": j.ID})
}

func (h *Handler) rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("Upload exceeds %s", datasize.ByteSize(h.cfg.MaxUploadSize).HR()),
	})
}

func (h *Handler) handleListJobs(c *gin.Context) {
	var statuses []job.Status
	for _, s := range c.QueryArray("status") {
		statuses = append(statuses, job.Status(s))
	}
	jobs, err := h.reader.List(c.Request.Context(), statuses...)
	if err != nil {
		h.writeError(c, err)
		return
	}
	views := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		view, err := h.jobView(c, j)
		if err != nil {
			h.writeError(c, err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	view, err := h.jobView(c, j)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) handleCancelJob(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	if err := h.submitter.Cancel(j.ID); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Job is %s and not running", j.Status)})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Job cancellation requested"})
}

// handleGetSubtitles serves the SRT artifact converted to WebVTT.
func (h *Handler) handleGetSubtitles(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	path, ok := j.Artifacts[job.StageSubtitles]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subtitles not available"})
		return
	}
	srt, err := os.ReadFile(path)
	if err != nil {
		h.writeError(c, fmt.Errorf("read subtitles: %w", err))
		return
	}
	c.Data(http.StatusOK, "text/vtt; charset=utf-8", []byte(SRTToVTT(string(srt))))
}

func (h *Handler) handleGetSegments(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	path, ok := j.Artifacts[job.StageSegments]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Segments not available"})
		return
	}
	segments, err := job.ReadSegments(path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, segments)
}

func (h *Handler) loadJob(c *gin.Context) (*job.Job, bool) {
	j, err := h.reader.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return j, true
}

// jobView is the record as stored plus a public URL for each artifact.
func (h *Handler) jobView(c *gin.Context, j *job.Job) (gin.H, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	var view gin.H
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}

	urls := gin.H{}
	base := h.baseURL(c)
	for stage, path := range j.Artifacts {
		urls[stage.Field()] = fmt.Sprintf("%s/outputs/%s", base, filepath.Base(path))
	}
	view["urls"] = urls
	return view, nil
}

func (h *Handler) baseURL(c *gin.Context) string {
	base := h.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return strings.TrimSuffix(base, "/")
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, job.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
