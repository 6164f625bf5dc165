// Command reel inspects and plays media files with the reel engine.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every flag can also be set through
// the environment as REEL_<FLAG>, with dashes turned into underscores.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("reel")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "reel",
		Short:         "Inspect and play media files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			level := slog.LevelInfo
			if v.GetBool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(newInfoCmd(v), newCodecsCmd(), newPlayCmd(v))
	return root
}
