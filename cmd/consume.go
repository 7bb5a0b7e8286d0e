package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/newswire-labs/clusterstream/pkg/checkpoint"
	"github.com/newswire-labs/clusterstream/pkg/config"
	"github.com/newswire-labs/clusterstream/pkg/consumer"
	"github.com/newswire-labs/clusterstream/pkg/ingress"
	"github.com/newswire-labs/clusterstream/pkg/logging"
	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/sink"
	"github.com/newswire-labs/clusterstream/pkg/telemetry"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the stream consumer",
	Long: `Starts the consumer loop: load the pool checkpoint, fan out queue
receivers until a batch is full, run one clustering step, publish the
results to the key-value store, acknowledge the consumed messages, and
checkpoint the pool on the configured cadence.

SIGTERM finishes the in-flight step, writes a final checkpoint, and
exits.

Example:
  clusterstream consume
  clusterstream consume --config /etc/clusterstream/clusterstream.yaml`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.Ingress.QueueURL == "" {
		return fmt.Errorf("ingress.queue_url is required")
	}
	if cfg.Sink.Table == "" {
		return fmt.Errorf("sink.kv_table is required")
	}
	if cfg.Checkpoint.Bucket == "" {
		return fmt.Errorf("checkpoint.object_store_bucket is required")
	}

	logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Tracing.Enabled,
		Exporter:   cfg.Telemetry.Tracing.Exporter,
		Endpoint:   cfg.Telemetry.Tracing.Endpoint,
		SampleRate: cfg.Telemetry.Tracing.SampleRate,
		Insecure:   cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	})
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
			o.UsePathStyle = true
		}
	})
	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	})

	m := metrics.New()
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics listener stopped")
			}
		}()
	}

	in := ingress.New(
		ingress.NewSQSQueue(sqsClient, cfg.Ingress.QueueURL),
		ingress.Config{
			BatchSize:        cfg.Ingress.BatchSize,
			ReceiverThreads:  cfg.Ingress.ReceiverThreads,
			PerReceiverBatch: cfg.Ingress.PerReceiverBatch,
			EmbeddingDim:     cfg.Clustering.EmbeddingDim,
		},
		m,
	)
	snk := sink.New(sink.NewDynamoStore(ddbClient, cfg.Sink.Table), m)
	ckpt := checkpoint.New(
		checkpoint.NewS3Store(s3Client, cfg.Checkpoint.Bucket),
		cfg.Checkpoint.Key,
		m,
	)

	log.Info().
		Int("batch_size", cfg.Ingress.BatchSize).
		Int("checkpoint_every", cfg.Checkpoint.Every).
		Int("embedding_dim", cfg.Clustering.EmbeddingDim).
		Float64("eps", cfg.Clustering.Eps).
		Msg("starting consumer")

	return consumer.New(cfg, in, snk, ckpt, m, tracer).Run(ctx)
}
