package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/convert-forge/internal/convert"
	"github.com/yourusername/convert-forge/internal/jobs"
	"github.com/yourusername/convert-forge/internal/layout"
	"github.com/yourusername/convert-forge/internal/storage"
)

// multipart のヘッダー分としてファイル上限に上乗せするバイト数。
const formOverhead = 1 << 20

// JobService はハンドラーが利用するジョブ操作です。
type JobService interface {
	Submit(ctx context.Context, job convert.Job) (string, error)
	GetRecord(ctx context.Context, jobID string) (*jobs.Record, error)
	Types() []convert.JobType
}

// Files はアップロードの保存と成果物の読み出しを行います。
type Files interface {
	SaveUpload(ctx context.Context, originalName string, r io.Reader, limit int64) (string, int64, error)
	InputPath(ref string) (string, error)
	Open(ref string) (*os.File, os.FileInfo, error)
	Release(ref string) error
}

// Options は Handler の依存関係です。
type Options struct {
	Jobs          JobService
	Files         Files
	Parser        convert.Parser
	Reconstructor layout.Reconstructor
	MaxFileSize   int64
	Logger        zerolog.Logger
}

// Handler は変換ジョブの HTTP ハンドラーです。
type Handler struct {
	jobs          JobService
	files         Files
	parser        convert.Parser
	reconstructor layout.Reconstructor
	maxFileSize   int64
	logger        zerolog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(opts Options) *Handler {
	return &Handler{
		jobs:          opts.Jobs,
		files:         opts.Files,
		parser:        opts.Parser,
		reconstructor: opts.Reconstructor,
		maxFileSize:   opts.MaxFileSize,
		logger:        opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Register は /api 配下のルートを登録します。
func (h *Handler) Register(group gin.IRouter) {
	group.GET("/types", h.ListTypes)
	group.POST("/jobs", h.SubmitJob)
	group.GET("/jobs/:id", h.JobStatus)
	group.GET("/jobs/:id/download", h.DownloadResult)
	group.POST("/layout", h.LayoutPreview)
}

// Health はヘルスチェック用ハンドラーです。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "convert-forge-api",
		"time":    time.Now().UTC(),
	})
}

// ListTypes は受け付けるジョブ種別を返します。
func (h *Handler) ListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": h.jobs.Types()})
}

// SubmitJob はファイルを受け取り変換ジョブを登録します。
func (h *Handler) SubmitJob(c *gin.Context) {
	if err := h.limitBody(c); err != nil {
		respondWithError(c, err)
		return
	}
	header, err := h.extractSingleFile(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	jobType := convert.JobType(strings.TrimSpace(c.PostForm("type")))
	if !h.knownType(jobType) {
		respondWithError(c, newError("INVALID_JOB_TYPE", fmt.Sprintf("未対応のジョブ種別です: %q", jobType), nil))
		return
	}

	ref, err := h.saveUpload(c.Request.Context(), header)
	if err != nil {
		respondWithError(c, err)
		return
	}

	job := convert.Job{
		Type:         jobType,
		InputRef:     ref,
		OriginalName: header.Filename,
		Options: convert.Options{
			CompressionLevel: strings.TrimSpace(c.PostForm("compressionLevel")),
		},
	}

	jobID, err := h.jobs.Submit(c.Request.Context(), job)
	if err != nil {
		_ = h.files.Release(ref)
		switch {
		case errors.Is(err, convert.ErrUnknownJobType):
			respondWithError(c, newError("INVALID_JOB_TYPE", "未対応のジョブ種別です。", err))
		case convert.IsValidation(err):
			respondWithError(c, newError("INVALID_INPUT", "ジョブの内容が正しくありません。", err))
		case errors.Is(err, jobs.ErrDuplicateJob):
			respondWithError(c, newError("DUPLICATE_JOB", "同じジョブが既に登録されています。", err))
		default:
			h.logger.Error().Err(err).Str("type", string(jobType)).Msg("failed to submit job")
			respondWithError(c, err)
		}
		return
	}

	h.logger.Info().Str("jobId", jobID).Str("type", string(jobType)).Int64("size", header.Size).Msg("job submitted")
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     jobID,
		"status":    jobs.StatusQueued,
		"statusUrl": "/api/jobs/" + jobID,
	})
}

// JobStatus はジョブの状態を返します。
func (h *Handler) JobStatus(c *gin.Context) {
	record, err := h.lookup(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// DownloadResult は完了したジョブの成果物を返します。
func (h *Handler) DownloadResult(c *gin.Context) {
	record, err := h.lookup(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if record.Status != jobs.StatusCompleted {
		respondWithError(c, newError("JOB_NOT_READY", "ジョブはまだ完了していません。", nil))
		return
	}
	if record.Outcome == nil || record.Outcome.OutputRef == "" {
		respondWithError(c, newError("JOB_RESULT_NOT_FOUND", "ジョブの結果が見つかりません。", nil))
		return
	}

	file, info, err := h.files.Open(record.Outcome.OutputRef)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidRef) {
			respondWithError(c, newError("JOB_RESULT_NOT_FOUND", "ジョブの結果ファイルが見つかりません。", err))
			return
		}
		respondWithError(c, err)
		return
	}
	defer file.Close()

	contentType := "application/octet-stream"
	if mtype, err := mimetype.DetectReader(file); err == nil {
		contentType = mtype.String()
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondWithError(c, err)
		return
	}

	filename := storage.DownloadName(record.OriginalName, record.Outcome.OutputRef)
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiFallback(filename), url.PathEscape(filename)),
		"Cache-Control":       "no-store",
		"X-Job-Id":            record.JobID,
		"X-Tier-Used":         string(record.Outcome.TierUsed),
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, headers)
}

// LayoutPreview はPDFを同期的に解析し、再構成した行を返します。
func (h *Handler) LayoutPreview(c *gin.Context) {
	if h.parser == nil {
		respondWithError(c, newError("LAYOUT_UNAVAILABLE", "レイアウト解析は利用できません。", nil))
		return
	}
	if err := h.limitBody(c); err != nil {
		respondWithError(c, err)
		return
	}
	header, err := h.extractSingleFile(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	ref, err := h.saveUpload(c.Request.Context(), header)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer func() { _ = h.files.Release(ref) }()

	path, err := h.files.InputPath(ref)
	if err != nil {
		respondWithError(c, err)
		return
	}
	pages, err := h.parser.Parse(c.Request.Context(), path)
	if err != nil {
		h.logger.Warn().Err(err).Str("file", header.Filename).Msg("layout preview parse failed")
		respondWithError(c, newError("INVALID_PDF", "PDFを解析できませんでした。", err))
		return
	}

	doc := h.reconstructor.Reconstruct(pages)
	c.JSON(http.StatusOK, newLayoutResponse(doc))
}

type layoutPage struct {
	Number int      `json:"number"`
	Lines  []string `json:"lines"`
}

type layoutResponse struct {
	PageCount int          `json:"pageCount"`
	LineCount int          `json:"lineCount"`
	Pages     []layoutPage `json:"pages"`
}

func newLayoutResponse(doc layout.Document) layoutResponse {
	resp := layoutResponse{
		PageCount: len(doc.Pages),
		LineCount: doc.LineCount(),
		Pages:     make([]layoutPage, len(doc.Pages)),
	}
	for i, page := range doc.Pages {
		lines := make([]string, len(page.Lines))
		for j, line := range page.Lines {
			lines[j] = line.Text()
		}
		resp.Pages[i] = layoutPage{Number: page.Number, Lines: lines}
	}
	return resp
}

func (h *Handler) lookup(c *gin.Context) (*jobs.Record, error) {
	jobID := c.Param("id")
	if jobID == "" {
		return nil, newError("INVALID_JOB_ID", "ジョブIDが指定されていません。", nil)
	}
	record, err := h.jobs.GetRecord(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("jobId", jobID).Msg("failed to load job")
		return nil, err
	}
	if record == nil {
		return nil, newError("JOB_NOT_FOUND", "ジョブが見つかりません。", nil)
	}
	return record, nil
}

func (h *Handler) knownType(t convert.JobType) bool {
	for _, known := range h.jobs.Types() {
		if known == t {
			return true
		}
	}
	return false
}

// limitBody はフォームを読む前にリクエスト本文の上限を設定します。
// 宣言された Content-Length が上限を超える場合は本文を読まずに拒否します。
func (h *Handler) limitBody(c *gin.Context) error {
	if h.maxFileSize <= 0 {
		return nil
	}
	limit := h.maxFileSize + formOverhead
	if c.Request.ContentLength > limit {
		return h.limitError(nil)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return nil
}

// extractSingleFile は limitBody の後に呼び出します。
func (h *Handler) extractSingleFile(c *gin.Context) (*multipart.FileHeader, error) {
	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, h.limitError(err)
		}
		return nil, newError("INVALID_INPUT", "ファイルを選択してください。", err)
	}
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		return nil, h.limitError(nil)
	}
	return header, nil
}

func (h *Handler) saveUpload(ctx context.Context, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", newError("INVALID_INPUT", "ファイルを開けませんでした。", err)
	}
	defer src.Close()

	ref, _, err := h.files.SaveUpload(ctx, header.Filename, src, h.maxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return "", h.limitError(err)
		}
		h.logger.Error().Err(err).Str("file", header.Filename).Msg("failed to store upload")
		return "", err
	}
	return ref, nil
}

func (h *Handler) limitError(err error) error {
	return newError("LIMIT_EXCEEDED", fmt.Sprintf("ファイルサイズは%dMB以下にしてください。", h.maxFileSize>>20), err)
}

func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
