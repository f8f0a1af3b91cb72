// Package openai generates turns through an OpenAI compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/generators"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo"
)

type Client struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float64
	persona     generators.Persona
	httpClient  *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

func WithMaxTokens(maxTokens int) ClientOption {
	return func(c *Client) { c.maxTokens = maxTokens }
}

// WithTemperature overrides the persona's temperature.
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = temperature }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(apiKey string, persona generators.Persona, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       DefaultModel,
		baseURL:     DefaultBaseURL,
		maxTokens:   generators.DefaultMaxTokens,
		temperature: persona.Temperature,
		persona:     persona,
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Generate(ctx context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error) {
	ctx, span := tracer.Start(ctx, "generate turn")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.model", c.model),
		attribute.String("dialogue.speaker", string(speaker)),
		attribute.Int("dialogue.history", len(recent)),
	)

	var messages []message
	if err := copier.Copy(&messages, generators.Transcript(c.persona, recent, topic)); err != nil {
		err = fmt.Errorf("error mapping transcript: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	reqBody := requestBody{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}

		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var responseBody responseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling response body: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if len(responseBody.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if responseBody.Usage != nil {
		span.SetAttributes(attribute.Int("response.total_tokens", responseBody.Usage.TotalTokens))
	}

	return strings.TrimSpace(responseBody.Choices[0].Message.Content), nil
}
