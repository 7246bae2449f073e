package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CloudConfig はクラウド変換サービスの接続設定です。
type CloudConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

// CloudClient はクラウド文書変換サービスの HTTP クライアントです。
//
// POST {BaseURL}/convert/{from}/to/{to} に multipart で File を送り、
// レスポンスの Files[0].Url から成果物をダウンロードします。
type CloudClient struct {
	httpClient *http.Client
	baseURL    string
	secret     string
}

type cloudFile struct {
	FileName string `json:"FileName"`
	FileExt  string `json:"FileExt"`
	URL      string `json:"Url"`
}

type cloudResponse struct {
	Files []cloudFile `json:"Files"`
}

type cloudErrorResponse struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

// NewCloudClient は CloudClient を作成します。
func NewCloudClient(cfg CloudConfig) *CloudClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &CloudClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.Secret,
	}
}

// Configured は URL とシークレットの両方が設定されている場合 true を返します。
func (c *CloudClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.secret != ""
}

// Transform は入力ファイルをクラウドで変換し、params.OutputPath に保存します。
func (c *CloudClient) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if !c.Configured() {
		return "", newError(Unconfigured, "cloud transform service is not configured", nil)
	}
	if params.From == "" || params.To == "" || params.OutputPath == "" {
		return "", newError(InvalidInput, "from, to and output path are required", nil)
	}

	body, contentType, err := c.buildForm(inputPath, params)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/convert/%s/to/%s", c.baseURL, params.From, params.To)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", newError(Unknown, "failed to create request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= 400 {
		return "", classifyStatus(resp.StatusCode, respBody)
	}

	var result cloudResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", newError(Unknown, "failed to decode cloud response", err)
	}
	if len(result.Files) == 0 || result.Files[0].URL == "" {
		return "", newError(Unknown, "cloud response contains no files", nil)
	}

	if err := c.download(ctx, result.Files[0].URL, params.OutputPath); err != nil {
		return "", err
	}
	return params.OutputPath, nil
}

func (c *CloudClient) buildForm(inputPath string, params Params) (io.Reader, string, error) {
	src, err := os.Open(inputPath)
	if err != nil {
		return nil, "", newError(InvalidInput, "failed to open input", err)
	}
	defer src.Close()

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("File", filepath.Base(inputPath))
	if err != nil {
		return nil, "", newError(Unknown, "failed to build form", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", newError(InvalidInput, "failed to read input", err)
	}
	if p := params.Profile; p != nil {
		fields := map[string]string{
			"Quality":   strconv.Itoa(p.Quality),
			"MaxWidth":  strconv.Itoa(p.MaxWidth),
			"MaxHeight": strconv.Itoa(p.MaxHeight),
			"Bitrate":   p.Bitrate,
			"Preset":    p.Preset,
		}
		for k, v := range fields {
			if v == "" || v == "0" {
				continue
			}
			if err := writer.WriteField(k, v); err != nil {
				return nil, "", newError(Unknown, "failed to build form", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", newError(Unknown, "failed to build form", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func (c *CloudClient) download(ctx context.Context, fileURL, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return newError(Unknown, "failed to create download request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return newError(Unknown, fmt.Sprintf("download failed with status %d", resp.StatusCode), nil)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return newError(Unknown, "failed to create output file", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(outputPath)
		return classifyTransportError(ctx, err)
	}
	return out.Close()
}

func classifyStatus(status int, body []byte) *Error {
	var apiErr cloudErrorResponse
	message := http.StatusText(status)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}
	message = fmt.Sprintf("cloud service returned %d: %s", status, message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(Unconfigured, message, nil)
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return newError(QuotaExceeded, message, nil)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType || status == http.StatusUnprocessableEntity:
		return newError(InvalidInput, message, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return newError(Timeout, message, nil)
	default:
		return newError(Unknown, message, nil)
	}
}

func classifyTransportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return newError(Timeout, "cloud request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(Timeout, "cloud request timed out", err)
	}
	return newError(Unknown, "cloud request failed", err)
}
