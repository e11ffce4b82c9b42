package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"patchwork-bot/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const reviewPromptFmt = `You are a senior software engineer with 15+ years of experience.
Analyze the following %s code focusing on: %s.

Provide output in EXACT structure:

🔴 Critical Issues

bullet points

🟠 High Priority

bullet points

🟡 Medium Priority

bullet points

🟢 Low Priority

bullet points

📌 Overall Summary

Short summary paragraph.

Code:

%s
`

const rewritePromptFmt = `You are an expert software architect.
Rewrite the following %s code to:

- Fix all bugs
- Improve performance
- Remove security vulnerabilities
- Apply best practices
- Make it production-ready

Respond with the rewritten code in a single fenced code block.

Code:
%s
`

// Client talks to an OpenAI-compatible chat-completions endpoint (Groq by
// default) and implements the Reviewer collaborator.
type Client struct {
	oai        openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

// NewClient builds a reviewer from LLM configuration.
func NewClient(cfg config.LLMConfig) *Client {
	// SDK-level retries are disabled; the complete() loop owns retry policy
	// so backoff respects the caller's context.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &Client{
		oai:        openai.NewClient(opts...),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}
}

// Review implements Reviewer. The narrative is parsed into severity buckets;
// the raw text travels along for the PR comment.
func (c *Client) Review(ctx context.Context, content, language string, focusAreas []string) (*Outcome, error) {
	if len(focusAreas) == 0 {
		focusAreas = []string{"bugs", "security", "performance", "best practices"}
	}
	prompt := fmt.Sprintf(reviewPromptFmt, language, strings.Join(focusAreas, ", "), content)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	counts, summary := parseReviewText(text)
	return &Outcome{
		Counts:  counts,
		Summary: summary,
		RawText: text,
	}, nil
}

// Rewrite implements Reviewer.
func (c *Client) Rewrite(ctx context.Context, content, language string) (string, error) {
	prompt := fmt.Sprintf(rewritePromptFmt, language, content)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}
	return extractCodeBlock(text), nil
}

// complete sends one user message and returns the text response, retrying
// transient failures with linear backoff.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			slog.Warn("retrying llm call", "attempt", attempt+1, "max", c.maxRetries+1)
		}

		text, err := c.completeOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var retryErr *RetryableError
		if !errors.As(err, &retryErr) {
			break
		}
	}

	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.oai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.3),
		MaxTokens:   openai.Int(2000),
		TopP:        openai.Float(0.9),
	})
	if err != nil {
		return "", c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapError marks rate limits, upstream 5xx and timeouts as retryable.
func (c *Client) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == 429 || (status >= 500 && status < 600) {
			return &RetryableError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RetryableError{Err: err}
	}
	return err
}
