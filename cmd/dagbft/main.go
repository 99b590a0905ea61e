// dagbft runs an in-process committee of consensus nodes connected over a
// loopback network. It is meant for local experimentation: it produces blocks
// at a fixed rate, commits them, and periodically prints commit progress.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dagbft",
		Short: "Run an in-process DAG consensus committee",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts runOptions
			if err := viper.Unmarshal(&opts); err != nil {
				return fmt.Errorf("failed to unmarshal configuration: %w", err)
			}
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.Int("authorities", 4, "number of authorities in the committee")
	flags.Int("payload-size", 128, "block payload size in bytes")
	flags.Duration("block-interval", defaultBlockInterval, "interval between block production attempts")
	flags.Duration("duration", 0, "how long to run; 0 runs until interrupted")
	flags.String("data-dir", "", "directory for persistent block storage; empty keeps everything in memory")
	flags.String("metrics-addr", "", "listen address for prometheus metrics; empty disables the endpoint")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("dagbft")
	viper.AutomaticEnv()

	return cmd
}
