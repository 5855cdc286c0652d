package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is filled from flags, then from the config file, then defaults.
	Config Config

	// Logger is configured in PersistentPreRunE.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the classsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "classsync",
		Short: "classsync - classroom feed and attendance client",
		Long: `Post to a class wall, like and comment with optimistic updates that are
reconciled against the live server snapshot, and run the attendance
request and approval workflow.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	flags.StringVar(&opts.Config.Database, "db", "", "path to SQLite database (default "+DefaultDatabase+")")
	flags.StringVar(&opts.Config.NATS.URL, "nats", "", "NATS server URL; uses a JetStream key-value bucket instead of SQLite")
	flags.StringVar(&opts.Config.NATS.Bucket, "bucket", "", "NATS key-value bucket (default "+DefaultBucket+")")
	flags.StringVar(&opts.Config.User.UserID, "user", "", "signed-in user id")
	flags.StringVar(&opts.Config.User.DisplayName, "name", "", "display name of the signed-in user")
	flags.StringVar((*string)(&opts.Config.User.Role), "role", "", "role of the signed-in user (student|instructor)")

	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewFeedCommand(opts))
	cmd.AddCommand(NewAttendanceCommand(opts))

	return cmd
}

func (opts *RootOptions) setup(stderr io.Writer) error {
	if !slices.Contains(ValidFormats, opts.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
	}
	if opts.ConfigPath != "" {
		file, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
		opts.Config.merge(file)
	}
	opts.Config.applyDefaults()
	if !opts.Config.User.Role.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid role %q: must be student or instructor", opts.Config.User.Role))
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
