package openai

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/duet/core/generators/openai"

var (
	tracer = otel.Tracer(scopeName)
)
