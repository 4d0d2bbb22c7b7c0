package db

const schemaDDL = `
CREATE TABLE IF NOT EXISTS batches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  batch_id TEXT NOT NULL UNIQUE,
  model_id TEXT NOT NULL,
  sdk_version TEXT,
  received_at INTEGER NOT NULL,
  event_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS prediction_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  batch_id TEXT NOT NULL REFERENCES batches (batch_id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  model_id TEXT NOT NULL,
  captured_at TEXT NOT NULL,
  received_at INTEGER NOT NULL,
  latency_ms REAL NOT NULL,
  input_json TEXT,
  output_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_batches_received ON batches (received_at);
CREATE INDEX IF NOT EXISTS idx_events_batch ON prediction_events (batch_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_model ON prediction_events (model_id, received_at);
`
