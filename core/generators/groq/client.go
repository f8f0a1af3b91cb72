// Package groq generates turns through Groq's chat completions endpoint with
// the reply constrained to a JSON schema.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/generators"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

// Reply is the structured shape every completion must follow.
type Reply struct {
	Message string `json:"message" jsonschema:"description=The next line of the dialogue, 1-2 sentences, without a speaker prefix"`
}

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
	reply, err := PromptJSONSchema(ctx, c, generators.Transcript(c.persona, recent, topic), Reply{})
	if err != nil {
		logger.WarnContext(ctx, "structured generation failed", "speaker", speaker, "error", err)
		return "", err
	}
	return strings.TrimSpace(reply.Message), nil
}

// PromptJSONSchema sends messages and decodes the reply into T, using T's
// reflected schema as the response format.
func PromptJSONSchema[T any](ctx context.Context, c *Client, transcript []generators.Message, outputSchema T) (*T, error) {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()

	var messages []message
	if err := copier.Copy(&messages, transcript); err != nil {
		return nil, recordError(span, fmt.Errorf("error mapping transcript: %w", err))
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	var (
		schema         *jsonschema.Schema
		outputTypeName string
	)
	if reflect.TypeOf(outputSchema).Kind() == reflect.Ptr {
		schema = reflector.ReflectFromType(reflect.TypeOf(outputSchema).Elem())
		outputTypeName = reflect.TypeOf(outputSchema).Elem().Name()
	} else {
		schema = reflector.Reflect(outputSchema)
		outputTypeName = reflect.TypeOf(outputSchema).Name()
	}

	reqBody := schemaRequestBody{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   outputTypeName,
				Schema: *schema,
				Strict: true,
			},
		},
	}

	span.SetAttributes(attribute.String("request.model", c.model))
	if schemaString, err := schema.MarshalJSON(); err == nil {
		span.SetAttributes(attribute.String("request.schema", string(schemaString)))
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("error marshalling JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, recordError(span, fmt.Errorf("error creating HTTP request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(resp.Body); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return nil, recordError(span, fmt.Errorf("non-OK HTTP status: %s", resp.Status))
	}

	var responseBody schemaResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		return nil, recordError(span, fmt.Errorf("error reading response body: %w", err))
	}
	if len(responseBody.Choices) == 0 {
		return nil, recordError(span, fmt.Errorf("response contained no choices"))
	}

	content := responseBody.Choices[0].Message.Content
	// Some models wrap the JSON in a fenced block despite the schema.
	if split := strings.Split(content, "```"); len(split) > 1 {
		content = strings.TrimPrefix(split[1], "json")
	}
	if err := json.Unmarshal([]byte(content), &outputSchema); err != nil {
		return nil, recordError(span, fmt.Errorf("error unmarshalling response: %w", err))
	}

	return &outputSchema, nil
}
