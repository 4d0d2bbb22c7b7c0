package guardrail

import (
	"context"
	"time"
)

// Predictor is the capability that gets instrumented. input is the primary
// feature input of the call.
type Predictor[In, Out any] interface {
	Predict(ctx context.Context, input In) (Out, error)
}

// PredictorFunc adapts an ordinary function to Predictor.
type PredictorFunc[In, Out any] func(ctx context.Context, input In) (Out, error)

func (f PredictorFunc[In, Out]) Predict(ctx context.Context, input In) (Out, error) {
	return f(ctx, input)
}

// Instrumented forwards Predict to the wrapped model and records telemetry
// for calls that succeed. Use Unwrap to reach the model's other methods.
type Instrumented[In, Out any] struct {
	model  Predictor[In, Out]
	client *Client
}

// Wrap instruments model with c. If c is nil or not active the model is
// returned unchanged and a warning is logged; wrapping never fails.
func Wrap[In, Out any](c *Client, model Predictor[In, Out]) Predictor[In, Out] {
	if !c.Active() {
		c.log().Warn("guardrail wrap called before init; telemetry will not be captured")
		return model
	}
	return &Instrumented[In, Out]{model: model, client: c}
}

// Predict returns exactly what the wrapped model returns. A failed call is
// not recorded and its error is passed through untouched.
func (m *Instrumented[In, Out]) Predict(ctx context.Context, input In) (Out, error) {
	start := time.Now()
	out, err := m.model.Predict(ctx, input)
	if err != nil {
		return out, err
	}
	m.client.record(time.Since(start), input, out)
	return out, nil
}

// Unwrap returns the original model.
func (m *Instrumented[In, Out]) Unwrap() Predictor[In, Out] {
	return m.model
}
