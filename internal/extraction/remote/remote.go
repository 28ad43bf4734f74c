package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"wastelog/internal/extraction"
	applog "wastelog/internal/log"
)

const extractPath = "/v1/extract"

var _ extraction.Extractor = (*Client)(nil)

// Client calls the document extraction service over HTTP.
type Client struct {
	httpClient *resty.Client
}

type extractResponse struct {
	Amount    *float64 `json:"amount"`
	TypeLabel string   `json:"type_label"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a configured extraction client.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("missing extraction service URL")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &Client{httpClient: client}, nil
}

// Extract uploads the certificate and returns the quantity the service read.
func (c *Client) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	var (
		body    extractResponse
		errBody errorResponse
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFileReader("file", req.File.Name, bytes.NewReader(req.File.Data)).
		SetFormData(map[string]string{
			"month_index": strconv.Itoa(req.MonthIndex),
		}).
		SetResult(&body).
		SetError(&errBody).
		Post(extractPath)
	if err != nil {
		return extraction.Result{}, fmt.Errorf("call extraction service: %w", err)
	}
	if resp.IsError() {
		msg := errBody.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return extraction.Result{}, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode(), msg)
	}
	if body.Amount == nil {
		return extraction.Result{}, errors.New("extraction service response missing amount")
	}

	label := strings.TrimSpace(body.TypeLabel)
	if label == "" {
		label = extraction.DefaultTypeLabel
	}
	slog.DebugContext(ctx, "Certificate extracted",
		applog.FieldComponent, applog.ComponentExtraction,
		applog.FieldOperation, applog.OpExtract,
		applog.FieldFileName, req.File.Name,
		applog.FieldKg, *body.Amount)
	return extraction.Result{Amount: *body.Amount, TypeLabel: label}, nil
}
