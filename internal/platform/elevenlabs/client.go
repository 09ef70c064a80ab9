package elevenlabs

import (
	"bytes"
	"context"
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

// ErrDisabled reports that no API key is configured. Callers that treat music
// generation as optional skip silently on this error.
var ErrDisabled = errors.New("elevenlabs: no api key configured")

// Client generates short audio compositions from a text description.
type Client interface {
	// Compose returns encoded MP3 bytes for the given prompt and duration.
	Compose(ctx context.Context, prompt string, duration time.Duration) ([]byte, error)
	Enabled() bool
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) Client {
	baseURL := strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &client{
		log:        log.With("client", "ElevenLabs"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) Enabled() bool { return c.apiKey != "" }

type composeRequest struct {
	Prompt     string `json:"prompt"`
	DurationMS int64  `json:"duration_ms"`
}

func (c *client) Compose(ctx context.Context, prompt string, duration time.Duration) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("elevenlabs: prompt required")
	}
	if duration <= 0 {
		duration = 15 * time.Second
	}

	body, err := json.Marshal(composeRequest{
		Prompt:     prompt,
		DurationMS: duration.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/music/compose", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read body: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return audio, nil
}
