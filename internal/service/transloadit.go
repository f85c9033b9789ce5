package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/cattube/internal/metrics"
	"github.com/timmy/cattube/internal/signature"
)

// Assembly terminal markers.
const (
	AssemblyCompleted = "ASSEMBLY_COMPLETED"
	AssemblyCanceled  = "ASSEMBLY_CANCELED"
	RequestAborted    = "REQUEST_ABORTED"

	// errRateLimited means the status fetch was throttled, not that the
	// assembly failed.
	errRateLimited = "ASSEMBLY_STATUS_FETCHING_RATE_LIMIT_REACHED"
)

// OriginalStep is the assembly step whose result is the transcoded video.
const OriginalStep = "video"

// AssemblyResult is one file produced by an assembly step.
type AssemblyResult struct {
	Name   string `json:"name"`
	SSLURL string `json:"ssl_url"`
	Size   int64  `json:"size"`
}

// Assembly is a transcoding job as reported by polling or notification.
type Assembly struct {
	OK         string                      `json:"ok"`
	Error      string                      `json:"error"`
	Message    string                      `json:"message"`
	AssemblyID string                      `json:"assembly_id"`
	Results    map[string][]AssemblyResult `json:"results"`
}

// ParseAssembly decodes a notification payload.
func ParseAssembly(payload string) (*Assembly, error) {
	var a Assembly
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("invalid assembly JSON: %w", err)
	}
	if a.AssemblyID == "" {
		return nil, errors.New("assembly_id is required")
	}
	return &a, nil
}

// Finished reports whether the assembly will not change any more.
func (a *Assembly) Finished() bool {
	switch a.OK {
	case RequestAborted, AssemblyCanceled, AssemblyCompleted:
		return true
	}
	return a.Error != "" && a.Error != errRateLimited
}

// Succeeded reports whether the assembly completed.
func (a *Assembly) Succeeded() bool {
	return a.OK == AssemblyCompleted
}

// OriginalKey returns the object key of the transcoded video:
// <prefix><assembly id>/<result name>.
func (a *Assembly) OriginalKey(prefix string) (string, error) {
	results := a.Results[OriginalStep]
	if len(results) == 0 || results[0].Name == "" {
		return "", fmt.Errorf("assembly %s has no %q result", a.AssemblyID, OriginalStep)
	}
	return prefix + a.AssemblyID + "/" + results[0].Name, nil
}

// TransloaditConfig holds configuration for the transcoder client.
type TransloaditConfig struct {
	Key        string
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
}

// TransloaditClient reads assembly state from the Transloadit API.
type TransloaditClient struct {
	client *resty.Client
	key    string
	secret string
}

// NewTransloaditClient creates a new transcoder client.
func NewTransloaditClient(cfg *TransloaditConfig) *TransloaditClient {
	client := resty.New()
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	}
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)

	return &TransloaditClient{client: client, key: cfg.Key, secret: cfg.Secret}
}

// GetAssembly fetches the current state of an assembly.
func (c *TransloaditClient) GetAssembly(ctx context.Context, assemblyID string) (assembly *Assembly, err error) {
	defer func(start time.Time) {
		metrics.RecordGatewayCall(GatewayTranscoder, "get_assembly", time.Since(start).Seconds(), err)
	}(time.Now())

	params, sig, err := signature.SignAuth(c.key, c.secret, time.Now(), time.Hour)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	var result Assembly
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("assembly_id", assemblyID).
		SetQueryParams(map[string]string{"params": params, "signature": sig}).
		SetResult(&result).
		Get("/assemblies/{assembly_id}")
	if err != nil {
		return nil, fmt.Errorf("%s get_assembly: %w", GatewayTranscoder, err)
	}
	if !resp.IsSuccess() {
		return nil, &GatewayError{
			Gateway:    GatewayTranscoder,
			Operation:  "get_assembly",
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(string(resp.Body())),
		}
	}
	return &result, nil
}
