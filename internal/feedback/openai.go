package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var errMalformed = errors.New("malformed feedback payload")

const systemPrompt = `You are a warm, concise journaling companion.
You receive one daily mood journal entry as JSON.
Reply with a single JSON object with these fields:
"webMessage": two or three supportive sentences for the web app,
"telegramMessage": one short friendly message for a chat app,
"tags": up to five lowercase topic tags,
"insight": one sentence about a pattern or suggestion,
"moodClassification": one of awesome, good, okay, bad, terrible.`

// OpenAIOptions configures the OpenAI generator.
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI generates feedback with a chat completion in JSON mode.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAI returns nil when no API key is configured.
func NewOpenAI(opts OpenAIOptions, logger *zap.Logger) *OpenAI {
	if opts.APIKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

func (g *OpenAI) Generate(ctx context.Context, in Input) (Payload, error) {
	if g == nil {
		return Payload{}, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	entry, err := json.Marshal(in)
	if err != nil {
		return Payload{}, fmt.Errorf("encode entry: %w", err)
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(entry)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Payload{}, fmt.Errorf("chat completion: %w", ctxErr)
		}
		return Payload{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Payload{}, fmt.Errorf("%w: no choices", errMalformed)
	}

	g.logger.Debug("feedback_generated",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return ParsePayload(resp.Choices[0].Message.Content)
}

// ParsePayload reads a generator reply leniently: surrounding prose or code
// fences are ignored and tags may be a list or a comma separated string.
func ParsePayload(raw string) (Payload, error) {
	doc := extractObject(raw)
	if doc == "" || !gjson.Valid(doc) {
		return Payload{}, fmt.Errorf("%w: not a JSON object", errMalformed)
	}

	res := gjson.Parse(doc)
	p := Payload{
		WebMessage:         strings.TrimSpace(res.Get("webMessage").String()),
		TelegramMessage:    strings.TrimSpace(res.Get("telegramMessage").String()),
		Insight:            strings.TrimSpace(res.Get("insight").String()),
		MoodClassification: strings.ToLower(strings.TrimSpace(res.Get("moodClassification").String())),
		Tags:               []string{},
	}

	tags := res.Get("tags")
	switch {
	case tags.IsArray():
		for _, t := range tags.Array() {
			if s := strings.ToLower(strings.TrimSpace(t.String())); s != "" {
				p.Tags = append(p.Tags, s)
			}
		}
	case tags.Type == gjson.String:
		for _, s := range strings.Split(tags.String(), ",") {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				p.Tags = append(p.Tags, s)
			}
		}
	}

	if p.WebMessage == "" || p.TelegramMessage == "" {
		return Payload{}, fmt.Errorf("%w: missing messages", errMalformed)
	}
	return p, nil
}

func extractObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// TelegramMessageOf returns the telegram message of a stored response
// document, or "" when absent.
func TelegramMessageOf(response string) string {
	return gjson.Get(response, "telegramMessage").String()
}
