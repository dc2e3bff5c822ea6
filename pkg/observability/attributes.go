package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway semantic convention attributes.
var (
	AttrRequestID   = attribute.Key("gateway.request.id")
	AttrAction      = attribute.Key("gateway.action")
	AttrEnvironment = attribute.Key("gateway.environment")
	AttrDecision    = attribute.Key("gateway.decision")
	AttrReason      = attribute.Key("gateway.decision.reason")

	AttrPolicyLoaded = attribute.Key("gateway.policy.loaded")
)

// ActionOperation creates attributes for one action execution.
func ActionOperation(action, environment string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAction.String(action),
		AttrEnvironment.String(environment),
	}
}

// DecisionOperation creates attributes for a policy decision.
func DecisionOperation(action, environment string, allowed bool) []attribute.KeyValue {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	return []attribute.KeyValue{
		AttrAction.String(action),
		AttrEnvironment.String(environment),
		AttrDecision.String(decision),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
