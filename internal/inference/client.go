// Package inference is a client for the model-inference gateway. Every job
// follows the same protocol: create a task, then poll its record until it
// succeeds or fails.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
	"github.com/rahu7v3rma/soreal-sub001/internal/utils"
)

// Model identifiers on the gateway.
const (
	ModelTextToImage      = "flux-2/pro-text-to-image"
	ModelUpscale          = "topaz/image-upscale"
	ModelRemoveBackground = "recraft/remove-background"
)

// ErrTaskFailed wraps failures reported by the gateway for a task.
var ErrTaskFailed = errors.New("inference task failed")

// ErrTimeout is returned when a task does not finish within MaxPolls.
var ErrTimeout = errors.New("inference task timed out")

// Client talks to the gateway over HTTP.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	log          zerolog.Logger
}

// GenerateOptions describes a text-to-image job.
type GenerateOptions struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	OutputFormat   string
}

// Result is the first output of a finished task.
type Result struct {
	TaskID string
	URL    string
}

// NewClient builds a client from configuration.
func NewClient(cfg config.InferenceConfig) *Client {
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		log:          log.With().Str("component", "inference").Logger(),
	}
}

// Generate runs a text-to-image job.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*Result, error) {
	input := map[string]any{
		"prompt":        opts.Prompt,
		"aspect_ratio":  firstNonEmpty(opts.AspectRatio, "1:1"),
		"output_format": strings.ToLower(firstNonEmpty(opts.OutputFormat, "png")),
	}
	if opts.NegativePrompt != "" {
		input["negative_prompt"] = opts.NegativePrompt
	}
	return c.run(ctx, ModelTextToImage, input)
}

// Upscale enlarges the image at imageURL by scale (2 or 4).
func (c *Client) Upscale(ctx context.Context, imageURL string, scale int) (*Result, error) {
	if scale != 4 {
		scale = 2
	}
	return c.run(ctx, ModelUpscale, map[string]any{
		"image_url":      imageURL,
		"upscale_factor": scale,
	})
}

// RemoveBackground cuts the subject out of the image at imageURL.
func (c *Client) RemoveBackground(ctx context.Context, imageURL string) (*Result, error) {
	return c.run(ctx, ModelRemoveBackground, map[string]any{"image": imageURL})
}

// Download fetches a finished image so it can be re-hosted.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download result: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read result: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func (c *Client) run(ctx context.Context, model string, input map[string]any) (*Result, error) {
	taskID, err := c.createTask(ctx, map[string]any{"model": model, "input": input})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	u, err := c.pollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Result{TaskID: taskID, URL: u}, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) endpoint(path string, q url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ep, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if q != nil {
		ep.RawQuery = q.Encode()
	}
	return base.ResolveReference(ep).String(), nil
}

func (c *Client) do(req *http.Request) (*envelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, truncateBody(raw))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(raw))
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("gateway error: code=%d msg=%s", env.Code, env.Msg)
	}
	return &env, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		return "", err
	}
	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	if data.TaskID == "" {
		return "", errors.New("empty taskId in response")
	}
	c.log.Debug().Str("task_id", data.TaskID).Interface("model", payload["model"]).Msg("task created")
	return data.TaskID, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		env, err := c.do(req)
		if err != nil {
			return "", fmt.Errorf("poll task: %w", err)
		}
		var rec struct {
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		}
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return "", fmt.Errorf("decode record: %w", err)
		}

		switch rec.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(rec.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", errors.New("no resultUrls in result")
			}
			c.log.Debug().Str("task_id", taskID).Int("attempt", attempt+1).Msg("task completed")
			return result.ResultURLs[0], nil
		case "fail":
			msg := firstNonEmpty(rec.FailMsg, "unknown error")
			c.log.Warn().Str("task_id", taskID).Str("fail_code", rec.FailCode).Str("fail_msg", msg).Msg("task failed")
			return "", fmt.Errorf("%w: %s (code: %s)", ErrTaskFailed, msg, rec.FailCode)
		case "waiting", "generating", "processing", "queued", "queueing":
		default:
			return "", fmt.Errorf("unknown task state: %s", rec.State)
		}

		if attempt < c.maxPolls-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxPolls)
}

func firstNonEmpty(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return utils.TruncateUTF8(s, limit) + "…"
}
