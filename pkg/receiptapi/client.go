// Package receiptapi is the HTTP+JSON client for the receipt processing
// backend: ingestion, extraction, allocation, ticker search, transaction
// creation and learning submission.
package receiptapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/auth"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

// Endpoint names used for metrics and error details.
const (
	EndpointUpload            = "upload"
	EndpointProcess           = "process"
	EndpointAllocate          = "allocate"
	EndpointSearchTicker      = "search-ticker"
	EndpointCreateTransaction = "create-transaction"
	EndpointSubmitToLearning  = "submit-to-llm"
)

const maxResponseBytes = 4 << 20

// Client defines the receipt backend operations used by the workflow.
type Client interface {
	Upload(ctx context.Context, filename, contentType string, body io.Reader) (types.Receipt, error)
	Process(ctx context.Context, receiptID string, req *types.ProcessRequest) (*types.ProcessResponse, error)
	Allocate(ctx context.Context, receiptID string) (*types.AllocationPreview, error)
	SearchTicker(ctx context.Context, query string) ([]types.TickerSuggestion, error)
	CreateTransaction(ctx context.Context, req *types.CreateTransactionRequest) (string, error)
	SubmitToLearning(ctx context.Context, req *types.LearningSubmission) error
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL     string
	credentials auth.CredentialProvider
	httpClient  *http.Client
	log         *zap.SugaredLogger
	metrics     *clientMetrics
}

// ClientOption is a function that configures the client
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a client for the API rooted at baseURL. Every request is
// authorised with a token from credentials.
func NewClient(baseURL string, credentials auth.CredentialProvider, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:     logger.GetLogger().Named("receipt-api"),
		metrics: newClientMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredentials returns a copy of the client that uses another credential
// provider. The HTTP transport is shared.
func (c *HTTPClient) WithCredentials(credentials auth.CredentialProvider) *HTTPClient {
	cp := *c
	cp.credentials = credentials
	return &cp
}

// Upload submits a receipt file as multipart field "file".
func (c *HTTPClient) Upload(ctx context.Context, filename, contentType string, body io.Reader) (types.Receipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return types.Receipt{}, fmt.Errorf("failed to read receipt file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return types.Receipt{}, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var resp types.UploadResponse
	if err := c.do(ctx, EndpointUpload, http.MethodPost, "/receipts/upload", mw.FormDataContentType(), &buf, &resp); err != nil {
		return types.Receipt{}, err
	}
	if !resp.Success || resp.ReceiptID == "" {
		return types.Receipt{}, errors.InvalidResponse(EndpointUpload, nonEmpty(resp.Reason(), "missing receiptId"))
	}
	if resp.Filename == "" {
		resp.Filename = filename
	}
	return types.Receipt{ID: resp.ReceiptID, Filename: resp.Filename}, nil
}

// Process triggers extraction for a receipt, or stores an override when
// req.Override is set. A response without success is accepted when it asks for
// manual entry or still carries usable data.
func (c *HTTPClient) Process(ctx context.Context, receiptID string, req *types.ProcessRequest) (*types.ProcessResponse, error) {
	if req == nil {
		req = &types.ProcessRequest{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var resp types.ProcessResponse
	path := fmt.Sprintf("/receipts/%s/process", url.PathEscape(receiptID))
	if err := c.do(ctx, EndpointProcess, http.MethodPost, path, "application/json", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	if !resp.Success && !resp.NeedsManualEntry {
		// Usable fields are kept as a partial extraction.
		if !resp.Data.IsUsable() {
			return nil, errors.InvalidResponse(EndpointProcess, nonEmpty(resp.Reason(), "success flag not set"))
		}
		c.log.Warnw("Process reported failure with usable data", "receiptId", receiptID, "reason", resp.Reason())
	}
	return &resp, nil
}

// Allocate requests the allocation preview for the receipt's current data.
// The response must carry success=true and an allocations array; an empty
// array is a valid preview.
func (c *HTTPClient) Allocate(ctx context.Context, receiptID string) (*types.AllocationPreview, error) {
	var resp types.AllocateResponse
	path := fmt.Sprintf("/receipts/%s/allocate", url.PathEscape(receiptID))
	if err := c.do(ctx, EndpointAllocate, http.MethodPost, path, "", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.InvalidResponse(EndpointAllocate, nonEmpty(resp.Reason(), "success flag not set"))
	}
	raw := bytes.TrimSpace(resp.Allocations)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.InvalidResponse(EndpointAllocate, "allocations must be an array")
	}
	allocations := []types.Allocation{}
	if err := json.Unmarshal(raw, &allocations); err != nil {
		return nil, errors.InvalidResponse(EndpointAllocate, err.Error())
	}
	return &types.AllocationPreview{TotalRoundUp: resp.TotalRoundUp, Allocations: allocations}, nil
}

// SearchTicker looks up ticker suggestions for free text.
func (c *HTTPClient) SearchTicker(ctx context.Context, query string) ([]types.TickerSuggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("q", query)
	var resp types.SearchTickerResponse
	if err := c.do(ctx, EndpointSearchTicker, http.MethodGet, "/receipts/search-ticker?"+params.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.InvalidResponse(EndpointSearchTicker, nonEmpty(resp.Reason(), "success flag not set"))
	}
	return resp.Suggestions, nil
}

// CreateTransaction finalises the receipt and returns the transaction id.
func (c *HTTPClient) CreateTransaction(ctx context.Context, req *types.CreateTransactionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	var resp types.CreateTransactionResponse
	if err := c.do(ctx, EndpointCreateTransaction, http.MethodPost, "/transactions/create", "application/json", bytes.NewReader(payload), &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.TransactionID == "" {
		return "", errors.InvalidResponse(EndpointCreateTransaction, nonEmpty(resp.Reason(), "missing transactionId"))
	}
	return resp.TransactionID, nil
}

// SubmitToLearning reports corrections for model training. The response body
// is not inspected beyond its status.
func (c *HTTPClient) SubmitToLearning(ctx context.Context, req *types.LearningSubmission) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, EndpointSubmitToLearning, http.MethodPost, "/receipts/submit-to-llm", "application/json", bytes.NewReader(payload), nil)
}

func (c *HTTPClient) do(ctx context.Context, endpoint, method, path, contentType string, body io.Reader, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.observe(endpoint, err, time.Since(start))
	}()

	token, err := c.credentials.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.log.Debugw("Calling receipt API", "endpoint", endpoint, "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Transport(endpoint, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Transport(endpoint, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var status types.APIStatus
		_ = json.Unmarshal(data, &status)
		c.log.Warnw("Receipt API returned non-2xx status", "endpoint", endpoint, "statusCode", resp.StatusCode, "reason", status.Reason())
		if resp.StatusCode == http.StatusUnauthorized {
			return errors.AuthenticationFailed(nonEmpty(status.Reason(), "Receipt service rejected credentials"))
		}
		var cause error
		if status.Reason() != "" {
			cause = fmt.Errorf("%s", status.Reason())
		}
		return errors.Transport(endpoint, resp.StatusCode, cause)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.InvalidResponse(endpoint, fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
