package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/bnbhub/internal/apps/knapsack"
	"github.com/Iron-Ham/bnbhub/internal/config"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random knapsack instance",
	Long: `Generate a random knapsack instance as TOML. The same flags always
produce the same instance.

Examples:
  # Write a 50-item instance to items.toml
  bnbhub generate --items 50 -o items.toml

  # A hard instance, printing its optimum for checking runs
  bnbhub generate --items 40 --correlated --optimum -o hard.toml`,
	Args: cobra.NoArgs,
	RunE: runGenerateCmd,
}

var (
	genItems      int
	genMaxWeight  int
	genCorrelated bool
	genRatio      float64
	genSeed       uint64
	genOutput     string
	genOptimum    bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVar(&genItems, "items", 30, "Number of items")
	generateCmd.Flags().IntVar(&genMaxWeight, "max-weight", 1000, "Largest item weight")
	generateCmd.Flags().BoolVar(&genCorrelated, "correlated", false, "Make values track weights (harder instances)")
	generateCmd.Flags().Float64Var(&genRatio, "capacity-ratio", 0.5, "Capacity as a fraction of the total weight")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 1, "Random seed")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Output file (default: stdout)")
	generateCmd.Flags().BoolVar(&genOptimum, "optimum", false, "Also print the optimal value, solved by dynamic programming")
}

func runGenerateCmd(cmd *cobra.Command, args []string) error {
	inst, err := knapsack.Generate(knapsack.GenerateOptions{
		Items:         genItems,
		MaxWeight:     genMaxWeight,
		Correlated:    genCorrelated,
		CapacityRatio: genRatio,
		Seed:          genSeed,
	})
	if err != nil {
		return err
	}

	if genOutput == "" {
		if err := encodeInstance(cmd.OutOrStdout(), inst); err != nil {
			return err
		}
	} else if err := writeInstance(config.ResolvePath(genOutput), inst); err != nil {
		return err
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d items (capacity %d) to %s\n", len(inst.Items), inst.Capacity, genOutput)
	}

	if genOptimum {
		fmt.Fprintf(cmd.ErrOrStderr(), "Optimum: %d\n", knapsack.Optimum(inst))
	}
	return nil
}

func writeInstance(path string, inst *knapsack.Instance) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encodeInstance(f, inst)
}

func encodeInstance(w io.Writer, inst *knapsack.Instance) error {
	if err := inst.Encode(w); err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}
	return nil
}
