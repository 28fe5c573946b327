package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/goodreads-export/pkg/config"
	"github.com/Sternrassler/goodreads-export/pkg/logging"
)

// app is the state shared by all subcommands once flags are parsed.
type app struct {
	secrets  string
	logLevel string
	pretty   bool

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "goodrexport",
		Short:         "Export your Goodreads reviews to XML and browse exported documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.secrets, "secrets", "", "JSON5 file with user_id and key (a .local variant next to it overrides it)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default from LOG_LEVEL or info)")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human readable logs instead of JSON")

	root.AddCommand(newExportCmd(a), newReviewsCmd(a))
	return root
}

// setup loads the configuration and configures logging to the command's stderr.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.secrets)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.LogPretty = a.pretty
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.LogPretty,
		Output: cmd.ErrOrStderr(),
	})

	a.cfg = cfg
	a.logger = logging.NewLogger("cli")
	return nil
}
