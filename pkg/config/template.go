package config

// GenerateTemplate returns a commented clusterstream.yaml with every
// option at its default value. embedding_dim has no default and is
// filled with an example value.
func GenerateTemplate() string {
	return `# clusterstream configuration
# Queue URL, bucket, checkpoint key, table, AWS region and endpoint, and
# tracing endpoint support ${VAR} and ${VAR:-default} interpolation.

clustering:
  # Embedding dimensionality. Required; immutable once a pool exists.
  embedding_dim: 1024

  # DBSCAN neighborhood radius in cosine distance.
  eps: 0.10

  # DBSCAN core-point minimum (counts the point itself).
  min_samples: 2

  # Pool size above which the distance matrix switches to sparse CSR.
  sparse_threshold: 15000

  # Tile width of the batched distance kernel.
  block_size: 120

  # Survivor centroid policy on merge: batch_mean or size_weighted.
  centroid_policy: batch_mean

ingress:
  # Work queue URL.
  queue_url: ${CLUSTERSTREAM_QUEUE_URL:-}

  # Documents per clustering step.
  batch_size: 500

  # Concurrent queue receivers per fan-out round.
  receiver_threads: 50

  # Messages per receiver poll (at most 10).
  per_receiver_batch: 10

checkpoint:
  # Object store bucket holding pool snapshots.
  object_store_bucket: ${CLUSTERSTREAM_CHECKPOINT_BUCKET:-}

  # Blob key for the snapshot.
  checkpoint_key: cluster-pool-checkpoint

  # Processed batches between snapshots.
  checkpoint_every: 5

sink:
  # Key-value table for cluster metadata and article rows.
  kv_table: ${CLUSTERSTREAM_KV_TABLE:-}

aws:
  region: us-east-1

  # Optional endpoint override for local test targets.
  endpoint: ""

logging:
  # trace, debug, info, warn, error
  level: info

  # Human-readable console output instead of JSON.
  console: false

metrics:
  enabled: true
  addr: ":9102"

telemetry:
  tracing:
    enabled: false
    exporter: otlp
    endpoint: localhost:4317
    sample_rate: 1.0
    insecure: true
`
}
