package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newswire-labs/clusterstream/pkg/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect pool checkpoints",
	Long:  `Commands for inspecting serialized pool checkpoints.`,
}

var checkpointInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a checkpoint blob",
	Long: `Decodes a checkpoint blob from a local file and prints pool
statistics. Download the blob from the object store first.

Example:
  clusterstream checkpoint inspect cluster-pool-checkpoint.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointInspect,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd)
}

func runCheckpointInspect(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	st, err := checkpoint.Decode(blob)
	if err != nil {
		return err
	}

	stories := 0
	largest := 0
	st.Each(func(_ string, members []string, _ []float32, _ bool) {
		stories += len(members)
		if len(members) > largest {
			largest = len(members)
		}
	})

	fmt.Printf("pool size:        %d\n", st.Size())
	fmt.Printf("clusters:         %d\n", st.ClusterCount())
	fmt.Printf("singletons:       %d\n", st.Size()-st.ClusterCount())
	fmt.Printf("embedding dim:    %d\n", st.Dim())
	fmt.Printf("stories:          %d\n", stories)
	fmt.Printf("largest cluster:  %d members\n", largest)
	return nil
}
