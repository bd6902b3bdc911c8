package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the settings file",
	}

	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))

	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a settings file with the defaults",
		Long: `Write the default settings as TOML. The path defaults to --config, or
stockline.toml in the current directory. An existing file is left alone.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultConfigFile
			}

			err := config.WriteDefault(path)
			if errors.Is(err, fs.ErrExist) {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists", path))
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to write config", err)
			}
			return formatter(rootOpts, cmd).Emit(map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ wrote %s\n", path)
			})
		},
	}
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective settings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode config", err)
			}
			return formatter(rootOpts, cmd).Emit(cfg, func(w io.Writer) {
				fmt.Fprint(w, string(data))
			})
		},
	}
}
