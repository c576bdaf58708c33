package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// HTTPOCRClient implements OCRClient against a simple OCR HTTP service
// (Tesseract-style sidecar): POST /ocr with base64 image, JSON text back.
type HTTPOCRClient struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// HTTPOCRConfig holds configuration for the OCR HTTP client.
type HTTPOCRConfig struct {
	BaseURL string
	Timeout time.Duration // default 10s
	Logger  hclog.Logger
}

// NewHTTPOCRClient creates a new OCR HTTP client.
func NewHTTPOCRClient(config HTTPOCRConfig) (*HTTPOCRClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("ocr base URL required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &HTTPOCRClient{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger.Named("ocr-client"),
	}, nil
}

type ocrRequest struct {
	Image    string `json:"image"` // base64
	MimeType string `json:"mime_type"`
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ExtractText sends image bytes to the OCR service.
func (c *HTTPOCRClient) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	reqJSON, err := json.Marshal(ocrRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
	})
	if err != nil {
		return "", &Error{Op: "ExtractText", Err: err}
	}

	respBody, err := c.post(ctx, "/ocr", reqJSON)
	if err != nil {
		return "", &Error{Op: "ExtractText", Err: ErrOCRUnavailable, Msg: err.Error()}
	}

	var parsed ocrResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Op: "ExtractText", Err: ErrOCRUnavailable, Msg: "malformed response"}
	}
	if parsed.Error != "" {
		return "", &Error{Op: "ExtractText", Err: ErrOCRUnavailable, Msg: parsed.Error}
	}

	return parsed.Text, nil
}

func (c *HTTPOCRClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// HTTPCaptioner implements Captioner against a vision-captioning HTTP
// service: POST /caption with base64 image, JSON caption + labels back.
type HTTPCaptioner struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// HTTPCaptionerConfig holds configuration for the captioner client.
type HTTPCaptionerConfig struct {
	BaseURL string
	Timeout time.Duration // default 10s
	Logger  hclog.Logger
}

// NewHTTPCaptioner creates a new captioner HTTP client.
func NewHTTPCaptioner(config HTTPCaptionerConfig) (*HTTPCaptioner, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("captioner base URL required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &HTTPCaptioner{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger.Named("captioner-client"),
	}, nil
}

type captionRequest struct {
	Image    string `json:"image"` // base64
	MimeType string `json:"mime_type"`
}

type captionResponse struct {
	Caption string   `json:"caption"`
	Labels  []string `json:"labels"`
	Error   string   `json:"error,omitempty"`
}

// Caption sends image bytes to the captioning service.
func (c *HTTPCaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, []string, error) {
	reqJSON, err := json.Marshal(captionRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
	})
	if err != nil {
		return "", nil, &Error{Op: "Caption", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/caption", bytes.NewReader(reqJSON))
	if err != nil {
		return "", nil, &Error{Op: "Caption", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, &Error{Op: "Caption", Err: ErrCaptionUnavailable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &Error{Op: "Caption", Err: ErrCaptionUnavailable, Msg: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, &Error{Op: "Caption", Err: ErrCaptionUnavailable,
			Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var parsed captionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", nil, &Error{Op: "Caption", Err: ErrCaptionUnavailable, Msg: "malformed response"}
	}
	if parsed.Error != "" {
		return "", nil, &Error{Op: "Caption", Err: ErrCaptionUnavailable, Msg: parsed.Error}
	}

	return parsed.Caption, parsed.Labels, nil
}
