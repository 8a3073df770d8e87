package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = cfg.Interval
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	engine := newEngine(cfg, newProvider(cfg, nil))
	snap, err := engine.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	if snap.Len() == 0 {
		fmt.Fprintln(out, "No coins above the market cap threshold")
		return nil
	}
	fmt.Fprintln(out, snap.Text())
	return nil
}
