// Package transcribe talks to the speech-to-text provider. Both
// transcription and diarization ride the same upload; the provider is
// asked for whichever view the pipeline needs.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"protoscribe/internal/pipeline"

	"go.uber.org/zap"
)

type Config struct {
	// required fields
	BaseURL string
	APIKey  string

	UpstreamTimeout time.Duration // per-request timeout (default: 300s)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.APIKey == "" {
		return errors.New("APIKey is required")
	}
	return nil
}

func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UpstreamTimeout <= 0 {
		// Long recordings take a while to process upstream.
		cfg.UpstreamTimeout = 300 * time.Second
	}
	return cfg
}

// Client implements pipeline.Transcriber and pipeline.Diarizer.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("transcribe"),
	}, nil
}

// provider response shapes
type providerSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

type providerTranscription struct {
	Transcript          string            `json:"transcript"`
	FormattedTranscript string            `json:"formatted_transcript"`
	DurationSeconds     float64           `json:"duration_seconds"`
	Language            string            `json:"language"`
	Segments            []providerSegment `json:"segments"`
	TotalSpeakers       int               `json:"total_speakers"`
}

func (c *Client) Transcribe(ctx context.Context, filePath, language string) (*pipeline.TranscriptionResult, error) {
	out, err := c.upload(ctx, filePath, language, false)
	if err != nil {
		return nil, err
	}

	return &pipeline.TranscriptionResult{
		Transcription:       out.Transcript,
		FormattedTranscript: out.FormattedTranscript,
		DurationSeconds:     out.DurationSeconds,
		Language:            out.Language,
	}, nil
}

func (c *Client) Diarize(ctx context.Context, filePath, language string) (*pipeline.DiarizationResult, error) {
	out, err := c.upload(ctx, filePath, language, true)
	if err != nil {
		return nil, err
	}

	segments := make([]pipeline.DiarizationSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, pipeline.DiarizationSegment{
			Speaker: s.Speaker,
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
		})
	}

	return &pipeline.DiarizationResult{
		Segments:      segments,
		TotalSpeakers: out.TotalSpeakers,
	}, nil
}

func (c *Client) upload(parentCtx context.Context, filePath, language string, diarize bool) (*providerTranscription, error) {
	start := time.Now()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: open %s: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("language", language)
	if diarize {
		q.Set("diarize", "true")
	}
	endpoint := c.cfg.BaseURL + "/v1/transcriptions?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return nil, fmt.Errorf("transcribe: build HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("transcription request failed",
			zap.String("file", filePath),
			zap.Error(err),
		)
		return nil, fmt.Errorf("transcribe: upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("transcription upstream error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, fmt.Errorf("transcribe: upstream %d", resp.StatusCode)
	}

	var out providerTranscription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transcribe: decode upstream response: %w", err)
	}

	c.logger.Info("transcription completed",
		zap.String("file", filePath),
		zap.Bool("diarize", diarize),
		zap.Float64("audio_seconds", out.DurationSeconds),
		zap.Duration("duration", time.Since(start)),
	)

	return &out, nil
}
