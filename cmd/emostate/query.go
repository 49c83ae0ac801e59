package main

import (
	"io"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/emostate/pkg/models"
)

var (
	historyLimit int

	contextCmd = &cobra.Command{
		Use:   "context <user> [topic]",
		Short: "Print the projected emotional context for a user, or one of their topics",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runContext,
	}

	historyCmd = &cobra.Command{
		Use:   "history <user> [topic]",
		Short: "Print the transition history of a state record",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "maximum number of transitions (default 50)")
}

func keyFromArgs(args []string) models.Key {
	key := models.Key{UserID: args[0]}
	if len(args) > 1 {
		key.TopicID = args[1]
	}
	return key
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		out, err := a.engine.ContextForUser(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	out, err := a.engine.Context(ctx, keyFromArgs(args))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.engine.History(ctx, keyFromArgs(args), historyLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), events)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
