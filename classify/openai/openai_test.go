package openai

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/maildedup/classify"
	"github.com/hupe1980/maildedup/model"
)

type stubChatClient struct {
	content string
	err     error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestClassifierParsesResponse(t *testing.T) {
	c := NewClassifierWithConfig(&stubChatClient{
		content: `{"request_type": "INVOICE_PAYMENT", "confidence": 0.91}`,
	}, ClassifierConfig{})

	pred, err := c.Classify(context.Background(), &model.Email{Subject: "Invoice #4521"})
	require.NoError(t, err)
	assert.Equal(t, classify.TypeInvoicePayment, pred.RequestType)
	assert.InDelta(t, 0.91, pred.Confidence, 1e-9)
}

func TestClassifierStripsCodeFence(t *testing.T) {
	c := NewClassifierWithConfig(&stubChatClient{
		content: "```json\n{\"request_type\": \"OTHER\", \"confidence\": 0.5}\n```",
	}, ClassifierConfig{})

	pred, err := c.Classify(context.Background(), &model.Email{Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, classify.TypeOther, pred.RequestType)
}

func TestClassifierRejectsUnknownType(t *testing.T) {
	c := NewClassifierWithConfig(&stubChatClient{
		content: `{"request_type": "SPAM", "confidence": 0.9}`,
	}, ClassifierConfig{})

	_, err := c.Classify(context.Background(), &model.Email{Subject: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown request type")
}

func TestClassifierRejectsMalformedJSON(t *testing.T) {
	c := NewClassifierWithConfig(&stubChatClient{content: "not json"}, ClassifierConfig{})

	_, err := c.Classify(context.Background(), &model.Email{Subject: "hi"})
	require.Error(t, err)
}
