package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/metrics"
)

// TwelveLabsConfig holds configuration for the video index client.
type TwelveLabsConfig struct {
	APIKey          string
	BaseURL         string
	IndexID         string
	Timeout         time.Duration
	SearchOptions   []string
	SearchThreshold string
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// TwelveLabsClient talks to the Twelve Labs REST API.
type TwelveLabsClient struct {
	client     *resty.Client
	downloader *resty.Client
	indexID    string
	options    []string
	threshold  string
}

// NewTwelveLabsClient creates a new index client.
// Parameters:
//   - cfg: API key, base URL, index id and search settings.
//
// Returns:
//   - *TwelveLabsClient: client bound to one index.
func NewTwelveLabsClient(cfg *TwelveLabsConfig) *TwelveLabsClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	newClient := func() *resty.Client {
		if cfg.HTTPClient != nil {
			return resty.NewWithClient(cfg.HTTPClient)
		}
		return resty.New()
	}

	client := newClient().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	// Thumbnails live on a CDN; the API key must not travel there.
	downloader := newClient().SetTimeout(timeout)

	threshold := cfg.SearchThreshold
	if threshold == "" {
		threshold = "medium"
	}

	return &TwelveLabsClient{
		client:     client,
		downloader: downloader,
		indexID:    cfg.IndexID,
		options:    cfg.SearchOptions,
		threshold:  threshold,
	}
}

type tlError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *TwelveLabsClient) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", GatewayIndex, op, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	var body tlError
	if json.Unmarshal(resp.Body(), &body) == nil && body.Message != "" {
		msg = body.Message
		if body.Code != "" {
			msg = body.Code + ": " + msg
		}
	}
	return &GatewayError{Gateway: GatewayIndex, Operation: op, StatusCode: resp.StatusCode(), Message: msg}
}

func (c *TwelveLabsClient) observe(op string, start time.Time, err error) {
	metrics.RecordGatewayCall(GatewayIndex, op, time.Since(start).Seconds(), err)
}

type tlTaskResponse struct {
	ID      string `json:"_id"`
	IndexID string `json:"index_id"`
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

// CreateTask submits a video URL for indexing with video streaming disabled.
func (c *TwelveLabsClient) CreateTask(ctx context.Context, videoURL string) (taskID string, err error) {
	defer func(start time.Time) { c.observe("create_task", start, err) }(time.Now())

	var result tlTaskResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"index_id":             c.indexID,
			"video_url":            videoURL,
			"disable_video_stream": strconv.FormatBool(true),
		}).
		SetResult(&result).
		Post("/tasks")
	if err = c.check("create_task", resp, err); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%s create_task: response has no task id", GatewayIndex)
	}
	return result.ID, nil
}

// GetTask retrieves the status of an indexing task.
func (c *TwelveLabsClient) GetTask(ctx context.Context, taskID string) (task *IndexTask, err error) {
	defer func(start time.Time) { c.observe("get_task", start, err) }(time.Now())

	var result tlTaskResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("task_id", taskID).
		SetResult(&result).
		Get("/tasks/{task_id}")
	if err = c.check("get_task", resp, err); err != nil {
		return nil, err
	}
	return &IndexTask{
		ID:      result.ID,
		Status:  strings.ToLower(result.Status),
		VideoID: result.VideoID,
	}, nil
}

// Thumbnail returns the thumbnail URL of an indexed video.
func (c *TwelveLabsClient) Thumbnail(ctx context.Context, videoID string) (url string, err error) {
	defer func(start time.Time) { c.observe("thumbnail", start, err) }(time.Now())

	var result struct {
		Thumbnail string `json:"thumbnail"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"index_id": c.indexID, "video_id": videoID}).
		SetResult(&result).
		Get("/indexes/{index_id}/videos/{video_id}/thumbnail")
	if err = c.check("thumbnail", resp, err); err != nil {
		return "", err
	}
	return result.Thumbnail, nil
}

var artifactPaths = map[domain.ArtifactKind]string{
	domain.ArtifactTranscription: "transcription",
	domain.ArtifactTextInVideo:   "text-in-video",
	domain.ArtifactLogo:          "logo",
}

// Artifact returns the "data" list of a derived artifact.
func (c *TwelveLabsClient) Artifact(ctx context.Context, kind domain.ArtifactKind, videoID string) (data json.RawMessage, err error) {
	path, ok := artifactPaths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArtifact, kind)
	}
	op := string(kind)
	defer func(start time.Time) { c.observe(op, start, err) }(time.Now())

	var result struct {
		Data json.RawMessage `json:"data"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"index_id": c.indexID, "video_id": videoID}).
		SetResult(&result).
		Get("/indexes/{index_id}/videos/{video_id}/" + path)
	if err = c.check(op, resp, err); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(result.Data)) == 0 || string(result.Data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return result.Data, nil
}

// Fetch downloads an absolute URL without API credentials.
func (c *TwelveLabsClient) Fetch(ctx context.Context, url string) (body []byte, err error) {
	defer func(start time.Time) { c.observe("fetch", start, err) }(time.Now())

	resp, err := c.downloader.R().SetContext(ctx).Get(url)
	if err = c.check("fetch", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

type tlSearchRequest struct {
	IndexID       string   `json:"index_id"`
	Query         string   `json:"query"`
	SearchOptions []string `json:"search_options"`
	GroupBy       string   `json:"group_by"`
	Threshold     string   `json:"threshold"`
}

type tlSearchResponse struct {
	Data     []SearchGroup `json:"data"`
	PageInfo struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"page_info"`
}

// Search runs a query grouped by video. An empty pageToken starts a new
// search; otherwise the page behind the token is fetched.
func (c *TwelveLabsClient) Search(ctx context.Context, query, pageToken string) (page *SearchPage, err error) {
	defer func(start time.Time) { c.observe("search", start, err) }(time.Now())

	var result tlSearchResponse
	req := c.client.R().SetContext(ctx).SetResult(&result)

	var resp *resty.Response
	if pageToken == "" {
		resp, err = req.
			SetHeader("Content-Type", "application/json").
			SetBody(tlSearchRequest{
				IndexID:       c.indexID,
				Query:         query,
				SearchOptions: c.options,
				GroupBy:       "video",
				Threshold:     c.threshold,
			}).
			Post("/search")
	} else {
		resp, err = req.SetPathParam("page_token", pageToken).Get("/search/{page_token}")
	}
	if err = c.check("search", resp, err); err != nil {
		return nil, err
	}

	return &SearchPage{Groups: result.Data, NextPageToken: result.PageInfo.NextPageToken}, nil
}

// DeleteVideo removes a video from the index. A missing video returns
// ErrIndexNotFound.
func (c *TwelveLabsClient) DeleteVideo(ctx context.Context, videoID string) (err error) {
	defer func(start time.Time) { c.observe("delete_video", start, err) }(time.Now())

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"index_id": c.indexID, "video_id": videoID}).
		Delete("/indexes/{index_id}/videos/{video_id}")
	return c.check("delete_video", resp, err)
}

// CheckIndex verifies the API key can read the configured index.
func (c *TwelveLabsClient) CheckIndex(ctx context.Context) (err error) {
	defer func(start time.Time) { c.observe("get_index", start, err) }(time.Now())

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("index_id", c.indexID).
		Get("/indexes/{index_id}")
	return c.check("get_index", resp, err)
}
