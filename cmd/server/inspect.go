package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model>",
	Short: "Report a model's signature and detected profile",
	Long: `Load a model without starting a session and print what the pipeline would
do with it: declared input and output tensors, whether it takes raw audio or
a spectrogram, whether it emits logits or class indices, and the blank
convention used for decoding. Model overrides from the configuration apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		loader := newLoader(cfg.Model, nil)
		d := loader.Diagnose(cmd.Context(), args[0], modelOverrides(cfg.Model))

		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if !d.Loaded || d.Profile == nil {
			return errors.New(d.Error)
		}
		return nil
	},
}
