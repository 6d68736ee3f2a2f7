package notify

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

	"github.com/scharc/boxctl/internal/config"
)

const (
	defaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel    = "claude-3-5-haiku-latest"
	anthropicVersion         = "2023-06-01"

	maxShortSummary = 120
	summaryTokens   = 300
)

const summaryPrompt = `You condense notifications from coding agents running in containers.
Reply with a single JSON object {"short": "...", "long": "..."}.
"short" is at most 100 characters and fits a desktop popup.
"long" is at most three sentences and keeps any question the agent is asking.`

// Summary is a short and a long rendition of a notification message.
type Summary struct {
	Short string `json:"short"`
	Long  string `json:"long"`
}

// Summarizer condenses notification messages.
type Summarizer interface {
	Summarize(ctx context.Context, title, message string) (Summary, error)
}

// LLMSummarizer calls an OpenAI-compatible chat completions endpoint or
// the Anthropic messages endpoint.
type LLMSummarizer struct {
	provider string
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewLLMSummarizer creates a summarizer from cfg. The API key is read
// from the environment variable cfg.APIKeyEnv when set.
func NewLLMSummarizer(cfg config.SummarizerConfig, client *http.Client) *LLMSummarizer {
	if client == nil {
		client = http.DefaultClient
	}
	s := &LLMSummarizer{
		provider: cfg.Provider,
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   client,
	}
	if cfg.APIKeyEnv != "" {
		s.apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch s.provider {
	case "anthropic":
		if s.endpoint == "" {
			s.endpoint = defaultAnthropicEndpoint
		}
		if s.model == "" {
			s.model = defaultAnthropicModel
		}
	default:
		s.provider = "openai"
		if s.endpoint == "" {
			s.endpoint = defaultOpenAIEndpoint
		}
		if s.model == "" {
			s.model = defaultOpenAIModel
		}
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type openaiResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Summarize asks the model for a summary of message.
func (s *LLMSummarizer) Summarize(ctx context.Context, title, message string) (Summary, error) {
	user := chatMessage{Role: "user", Content: fmt.Sprintf("Title: %s\n\n%s", title, message)}

	var text string
	switch s.provider {
	case "anthropic":
		var resp anthropicResponse
		err := s.post(ctx, anthropicRequest{
			Model:     s.model,
			MaxTokens: summaryTokens,
			System:    summaryPrompt,
			Messages:  []chatMessage{user},
		}, &resp)
		if err != nil {
			return Summary{}, err
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
	default:
		var resp openaiResponse
		err := s.post(ctx, openaiRequest{
			Model:     s.model,
			MaxTokens: summaryTokens,
			Messages:  []chatMessage{{Role: "system", Content: summaryPrompt}, user},
		}, &resp)
		if err != nil {
			return Summary{}, err
		}
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
	}

	if strings.TrimSpace(text) == "" {
		return Summary{}, errors.New("summarizer returned no text")
	}
	return parseSummary(text), nil
}

func (s *LLMSummarizer) post(ctx context.Context, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("summarizer/%s: marshal request: %w", s.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("summarizer/%s: create request: %w", s.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		if s.provider == "anthropic" {
			req.Header.Set("x-api-key", s.apiKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}
	}
	if s.provider == "anthropic" {
		req.Header.Set("anthropic-version", anthropicVersion)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("summarizer/%s: send request: %w", s.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("summarizer/%s: HTTP %d: %s", s.provider, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("summarizer/%s: decode response: %w", s.provider, err)
	}
	return nil
}

// parseSummary reads the model's JSON reply. Replies that are not JSON
// are used as the long form, with their first line as the short form.
func parseSummary(text string) Summary {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err == nil && s.Short != "" {
		if s.Long == "" {
			s.Long = s.Short
		}
		s.Short = truncate(s.Short, maxShortSummary)
		return s
	}

	short, _, _ := strings.Cut(text, "\n")
	return Summary{Short: truncate(strings.TrimSpace(short), maxShortSummary), Long: text}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
