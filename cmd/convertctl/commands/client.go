package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/convert-forge/internal/jobs"
)

// apiError はサーバーが返すエラーペイロードです。
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, key string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  key,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// submit は file をアップロードし、ジョブIDを返します。
func (c *client) submit(ctx context.Context, path, jobType, level string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// 大きなファイルでもメモリに載せずに送る
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := writer.WriteField("type", jobType); err != nil {
				return err
			}
			if level != "" {
				if err := writer.WriteField("compressionLevel", level); err != nil {
					return err
				}
			}
			part, err := writer.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (c *client) status(ctx context.Context, jobID string) (*jobs.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	var record jobs.Record
	if err := c.doJSON(req, http.StatusOK, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// wait はジョブが終了状態になるまでポーリングします。
func (c *client) wait(ctx context.Context, jobID string, interval time.Duration, onProgress func(*jobs.Record)) (*jobs.Record, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		record, err := c.status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(record)
		}
		if record.Status.Terminal() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// download は成果物を dir に保存し、保存先のパスを返します。
func (c *client) download(ctx context.Context, jobID, dir string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+jobID+"/download", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	name := jobID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if v := params["filename"]; v != "" {
			name = filepath.Base(v)
		}
	}

	target := filepath.Join(dir, name)
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", err
	}
	return target, out.Close()
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
	return apiErr
}
