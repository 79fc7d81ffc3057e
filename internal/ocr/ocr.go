// Package ocr transcribes scanned pages through a vision model so that
// image-only uploads can still enter the pipeline.
package ocr

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
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4/"
	defaultModel   = "glm-4.5v"

	defaultMaxRetries = 2
	defaultRetryDelay = 2 * time.Second

	requestTimeout = 300 * time.Second
)

const transcriptionPrompt = "Transcribe all readable text from this page image. " +
	"Keep the original reading order and paragraph breaks. " +
	"Return only the transcribed text, with no commentary."

// Client sends page images to an OpenAI-compatible vision endpoint and
// returns the transcribed text.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        zerolog.Logger

	maxRetries int
	retryDelay time.Duration
}

// New builds a vision OCR client. Empty baseURL and model fall back to the
// defaults above.
func New(apiKey, baseURL, model string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	if model == "" {
		model = defaultModel
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// imageURL holds an http URL or a base64 data URI.
type imageURL struct {
	URL string `json:"url"`
}

type messageContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type thinkingConfig struct {
	Type string `json:"type"`
}

type visionRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	Thinking    thinkingConfig `json:"thinking"`
	Stream      bool           `json:"stream"`
	Temperature float64        `json:"temperature"`
	TopP        float64        `json:"top_p"`
	MaxTokens   int            `json:"max_tokens"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// RecognizeText transcribes an uploaded file. PDF input is rasterized to one
// image per page first; anything else is sent as a single image. Page texts
// are joined with form feeds so page structure survives into segmentation.
func (c *Client) RecognizeText(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("ocr: empty input")
	}

	uris, err := c.pageImages(ctx, data)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(uris))
	for i, uri := range uris {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, err := c.transcribe(ctx, uri)
		if err != nil {
			return "", fmt.Errorf("transcribe page %d of %d: %w", i+1, len(uris), err)
		}
		texts = append(texts, text)
	}

	return strings.Join(texts, "\f"), nil
}

func (c *Client) pageImages(ctx context.Context, data []byte) ([]string, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return c.renderPDF(ctx, data)
	}
	return []string{dataURI(http.DetectContentType(data), data)}, nil
}

// transcribe sends one page image to the vision endpoint, retrying transient
// failures. Client errors (4xx) fail immediately.
func (c *Client) transcribe(ctx context.Context, uri string) (string, error) {
	reqBody, err := json.Marshal(visionRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []messageContent{
				{Type: "image_url", ImageURL: &imageURL{URL: uri}},
				{Type: "text", Text: transcriptionPrompt},
			},
		}},
		Thinking:    thinkingConfig{Type: "disabled"},
		Stream:      false,
		Temperature: 0.1,
		TopP:        0.7,
		MaxTokens:   16384,
	})
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	c.log.Debug().Int("payload_kb", len(reqBody)/1024).Msg("vision request")

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("retrying vision request")
			time.Sleep(time.Duration(attempt) * c.retryDelay)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("create vision request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("execute vision request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read vision response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("vision api status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return "", lastErr
			}
			continue
		}

		var visionResp visionResponse
		if err := json.Unmarshal(body, &visionResp); err != nil {
			lastErr = fmt.Errorf("unmarshal vision response: %w", err)
			continue
		}
		if len(visionResp.Choices) == 0 || visionResp.Choices[0].Message.Content == "" {
			lastErr = errors.New("vision api returned no text")
			continue
		}

		return visionResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("vision api failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// renderPDF rasterizes every page with Ghostscript and returns one PNG data
// URI per page, in document order.
func (c *Client) renderPDF(ctx context.Context, data []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "ocr-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	renderDir, err := os.MkdirTemp("", "pdf-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(renderDir)

	// 150 DPI keeps pages readable without blowing up the request payload.
	cmd := exec.CommandContext(ctx, "gs",
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		"-r150",
		fmt.Sprintf("-sOutputFile=%s", filepath.Join(renderDir, "page-%04d.png")),
		tmp.Name(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, stderr.String())
	}

	entries, err := os.ReadDir(renderDir)
	if err != nil {
		return nil, fmt.Errorf("read render dir: %w", err)
	}

	uris := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		img, err := os.ReadFile(filepath.Join(renderDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", entry.Name(), err)
		}
		uris = append(uris, dataURI("image/png", img))
	}
	if len(uris) == 0 {
		return nil, errors.New("ghostscript produced no pages")
	}

	return uris, nil
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
