package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clusterstream",
	Short: "clusterstream - Incremental streaming clusterer for news articles",
	Long: `clusterstream consumes embedded news articles from a work queue,
maintains an ever-growing pool of clusters and singletons keyed by
centroid embeddings, merges arriving documents into existing clusters
with density-based clustering over cosine distance, and publishes
cluster membership updates to a key-value store.

The in-memory pool is checkpointed to object storage so a restarted
process resumes with its full clustering history.

Environment Variables:
  CLUSTERSTREAM_AWS_REGION      AWS region for SQS, S3, and DynamoDB
  CLUSTERSTREAM_INGRESS_QUEUE_URL   Work queue URL
  CLUSTERSTREAM_SINK_KV_TABLE       Key-value table name`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is clusterstream.yaml in $HOME or the current directory)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
// Config loading priority: CLI flags > environment variables > config file > defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("clusterstream")
	}

	// Read environment variables with CLUSTERSTREAM_ prefix
	viper.SetEnvPrefix("CLUSTERSTREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
