// Package openai implements classify.Classifier using a chat model.
package openai

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/hupe1980/maildedup/classify"
	"github.com/hupe1980/maildedup/model"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are an email classification AI for a finance back office. Analyze the email and respond with JSON only.

Request types (pick ONE):
- REIMBURSEMENT: employee expense reimbursement requests
- INVOICE_PAYMENT: invoices and payment requests from vendors
- ACCOUNT_INQUIRY: questions about account status or balance
- STATEMENT_REQUEST: requests for account statements
- OTHER: anything else

Respond with this exact JSON format:
{
  "request_type": "REIMBURSEMENT|INVOICE_PAYMENT|ACCOUNT_INQUIRY|STATEMENT_REQUEST|OTHER",
  "confidence": 0.0-1.0
}`

// Client is the subset of the OpenAI API the classifier uses.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ClassifierConfig configures the chat classifier.
type ClassifierConfig struct {
	Model string
}

// Classifier implements classify.Classifier against the OpenAI chat API.
type Classifier struct {
	client Client
	model  string
	cb     *gobreaker.CircuitBreaker
}

// NewClassifier creates a classifier with the default model.
func NewClassifier(apiKey string) *Classifier {
	return NewClassifierWithConfig(openai.NewClient(apiKey), ClassifierConfig{})
}

// NewClassifierWithConfig creates a classifier with an explicit client and config.
func NewClassifierWithConfig(client Client, cfg ClassifierConfig) *Classifier {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	cbSettings := gobreaker.Settings{
		Name:        "openai-classify",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Classifier{
		client: client,
		model:  model,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

type classificationResponse struct {
	RequestType string  `json:"request_type"`
	Confidence  float64 `json:"confidence"`
}

// Classify asks the chat model for a request type.
func (c *Classifier) Classify(ctx context.Context, email *model.Email) (model.Prediction, error) {
	userPrompt := fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n\nBody:\n%s",
		email.From, email.Subject, email.Date.Format(time.RFC3339), truncate(email.PlainText, 2000))

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai: chat response contains no choices")
		}

		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return model.Prediction{}, err
	}

	raw := result.(string)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed classificationResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return model.Prediction{}, fmt.Errorf("openai: failed to parse classification response: %w", err)
	}

	if !slices.Contains(classify.RequestTypes(), parsed.RequestType) {
		return model.Prediction{}, fmt.Errorf("openai: model returned unknown request type %q", parsed.RequestType)
	}

	return model.Prediction{
		RequestType: parsed.RequestType,
		Confidence:  parsed.Confidence,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
