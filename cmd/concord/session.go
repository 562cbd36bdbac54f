package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/concord/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted sessions",
	Long:  `List, inspect, and remove sessions held by the configured store backend.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, backend, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		sessions, err := engine.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No live sessions found.")
			return nil
		}

		fmt.Fprintln(out, "Live Sessions:")
		for _, s := range sessions {
			fmt.Fprintln(out, "- "+s)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state and participants of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		engine, backend, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		sess, err := engine.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", sessionID, err)
		}

		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling session: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, backend, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		if all, _ := cmd.Flags().GetBool("all"); all {
			if args, err = engine.ListSessions(cmd.Context()); err != nil {
				return fmt.Errorf("error listing sessions: %w", err)
			}
		}

		var errs []error
		out := cmd.OutOrStdout()
		for _, sessionID := range args {
			if err := engine.DeleteSession(cmd.Context(), sessionID); err != nil {
				errs = append(errs, fmt.Errorf("error removing '%s': %w", sessionID, err))
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", sessionID)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionRmCmd.Flags().Bool("all", false, "Remove every session")
}
