package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/emostate/pkg/models"
)

var (
	overrideNote string

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run one decay sweep over all records and exit",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}

	overrideCmd = &cobra.Command{
		Use:   "override <user> <topic> <ST|MT|LT|dormant>",
		Short: "Force a state record into a tier",
		Long:  "Force a state record into a tier. Use an empty string for the topic to target the user-level record.",
		Args:  cobra.ExactArgs(3),
		RunE:  runOverride,
	}
)

func init() {
	overrideCmd.Flags().StringVar(&overrideNote, "note", "", "reason recorded in the transition log")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Scheduler(cfg.Decay, log.Logger).Sweep(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runOverride(cmd *cobra.Command, args []string) error {
	target, err := models.ParseTier(args[2])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, transitions, err := a.engine.Override(ctx, models.Key{UserID: args[0], TopicID: args[1]}, target, overrideNote)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"record":      rec,
		"transitions": transitions,
	})
}
