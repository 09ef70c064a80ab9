package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

// ImageInput is the normalized multimodal image input used by Client.
type ImageInput struct {
	// Can be https://... or data:image/...;base64,...
	ImageURL string
	// Optional. Some models may ignore; kept for compatibility.
	Detail string // "low" | "high"
}

type ImageGeneration struct {
	Bytes         []byte
	MimeType      string
	RevisedPrompt string
}

// Client is the OpenAI API client used by the rest of the backend.
type Client interface {
	// Image generation (raster). Returns bytes (PNG by default).
	GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error)

	// RunToolConversation drives a bounded multi-turn tool-calling exchange:
	// the model either finishes with text or invokes a declared capability,
	// whose dispatched result is fed back so the model can close its turn.
	RunToolConversation(ctx context.Context, conv ToolConversation) (ToolResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	imageModel string
	imageSize  string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4.1"
	}
	imageModel := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_MODEL"))
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}
	imageSize := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_SIZE"))
	if imageSize == "" {
		imageSize = "1024x1024"
	}
	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("OPENAI_MAX_RETRIES")); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &maxRetries); n != 1 || err != nil {
			maxRetries = 3
		}
	}

	return &client{
		log:        log.With("client", "OpenAI"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		imageModel: imageModel,
		imageSize:  imageSize,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		maxRetries: maxRetries,
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	// Network-level failures are retryable; context cancellation is not.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !isRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", backoff.String(),
			"error", err.Error(),
		)
		time.Sleep(backoff)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Images API --------------------

type imagesGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // b64_json|url
}

type imagesGenerationResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (c *client) GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error) {
	var out ImageGeneration
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return out, errors.New("image prompt required")
	}

	responseFormat := "b64_json"
	if strings.HasPrefix(strings.ToLower(c.imageModel), "gpt-image-") {
		responseFormat = ""
	}
	req := imagesGenerationRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: responseFormat,
	}

	var resp imagesGenerationResponse
	if err := c.do(ctx, "POST", "/v1/images/generations", req, &resp); err != nil {
		return out, err
	}
	if len(resp.Data) == 0 {
		return out, errors.New("no image returned")
	}
	item := resp.Data[0]
	out.RevisedPrompt = strings.TrimSpace(item.RevisedPrompt)
	b64 := strings.TrimSpace(item.B64JSON)
	if b64 == "" {
		if u := strings.TrimSpace(item.URL); u != "" {
			b, ct, err := c.downloadBytes(ctx, u)
			if err != nil {
				return out, fmt.Errorf("download generated image: %w", err)
			}
			out.Bytes = b
			if strings.TrimSpace(ct) != "" {
				out.MimeType = strings.TrimSpace(strings.Split(ct, ";")[0])
			}
			if out.MimeType == "" {
				out.MimeType = "image/png"
			}
			return out, nil
		}
		return out, errors.New("image response missing b64_json and url")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) == 0 {
		return out, fmt.Errorf("decode image base64: %w", err)
	}
	out.Bytes = raw
	out.MimeType = "image/png"
	return out, nil
}

func (c *client) downloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download failed: http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return b, resp.Header.Get("Content-Type"), nil
}
