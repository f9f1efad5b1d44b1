package configcmder

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const initLongDesc string = `Write a config.toml for a backend preset.

Presets:
  llama     local llama.cpp-style server on http://127.0.0.1:8080 (default)
  openai    the OpenAI API; set backend.api_key or OPENAI_API_KEY

An existing config.toml is kept unless --force is given.

Examples:
  relay config init
  relay config init openai --force`

const initShortDesc string = "Write a config for a backend preset"

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:       "init [preset]",
		Short:     initShortDesc,
		Long:      initLongDesc,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: config.ValidPresetNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			preset := "llama"
			if len(args) == 1 {
				preset = args[0]
			}
			return runInit(cmd, preset, configDir, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config.toml")

	return cmd
}

func runInit(cmd *cobra.Command, preset, configDir string, force bool) error {
	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if !force {
		_, err := os.Stat(target)
		if err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", target)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking config: %w", err)
		}
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printTarget(out, target)
	fmt.Fprintf(out, "  %s Wrote %s preset\n\n", cliui.SuccessMark, cliui.ValueStyle.Render(preset))
	return nil
}
