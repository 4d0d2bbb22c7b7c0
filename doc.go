// Package guardrail instruments predictive models. A wrapped model behaves
// exactly like the original; every successful prediction is additionally
// timed and recorded as an event that is buffered in memory and delivered
// in batches to an ingestion endpoint.
//
// Delivery is best effort: batches are dropped when the backend is
// unavailable, and events are evicted oldest-first when the queue is full.
//
//	client, err := guardrail.Start(guardrail.Config{APIKey: key, ModelID: "fraud-v2"})
//	if err != nil {
//		return err
//	}
//	defer client.Dispose(context.Background())
//
//	model := guardrail.Wrap[Features, Score](client, fraudModel)
//	score, err := model.Predict(ctx, features)
package guardrail
