package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newswire-labs/clusterstream/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage clusterstream configuration",
	Long:  `Commands for creating and validating clusterstream.yaml configuration files.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a clusterstream.yaml template",
	Long: `Creates a clusterstream.yaml configuration file with all available
options and their default values; embedding_dim, which has no default,
is set to an example value.

Example:
  clusterstream config init
  clusterstream config init --output /etc/clusterstream/clusterstream.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a clusterstream.yaml configuration file",
	Long: `Reads and validates a configuration file, reporting any errors.

Example:
  clusterstream config validate
  clusterstream config validate clusterstream.yaml`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringP("output", "o", "clusterstream.yaml", "output file path")
	configInitCmd.Flags().Bool("stdout", false, "print to stdout instead of file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	toStdout, _ := cmd.Flags().GetBool("stdout")
	output, _ := cmd.Flags().GetString("output")

	template := config.GenerateTemplate()

	if toStdout {
		fmt.Print(template)
		return nil
	}

	// Check if file already exists
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print to stdout)", output)
	}

	if err := os.WriteFile(output, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created %s\n", output)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := "clusterstream.yaml"
	if len(args) > 0 {
		path = args[0]
	} else if cfgFile != "" {
		path = cfgFile
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s is valid\n", path)
	fmt.Fprintf(os.Stderr, "  embedding_dim: %d\n", cfg.Clustering.EmbeddingDim)
	fmt.Fprintf(os.Stderr, "  batch_size:    %d\n", cfg.Ingress.BatchSize)
	fmt.Fprintf(os.Stderr, "  eps:           %g\n", cfg.Clustering.Eps)
	return nil
}
