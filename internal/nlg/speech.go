package nlg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SpeechConfig tunes the speech synthesis client.
type SpeechConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Voice     string
	Timeout   time.Duration
	RateLimit float64
}

// Speaker converts text to audio through an OpenAI-compatible /audio/speech endpoint.
type Speaker struct {
	apiKey     string
	endpoint   string
	model      string
	voice      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSpeaker creates a speech client.
func NewSpeaker(cfg SpeechConfig) (*Speaker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("speech API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	return &Speaker{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/audio/speech",
		model:      cfg.Model,
		voice:      cfg.Voice,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// ContentType is the MIME type of the audio Synthesize returns.
const ContentType = "audio/ogg"

// Synthesize returns Opus-in-Ogg audio for text, which chat clients play as a voice note.
func (s *Speaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speech input is empty")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "opus",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send speech request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("speech API error (status %d)", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, errors.New("speech API returned no audio")
	}
	return data, nil
}
