// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/bridge"
	"github.com/geluk/matrix-webhook-gateway/pkg/database"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "List, create and delete webhooks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [room]",
		Short: "List webhooks, optionally only those of one room",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var hooks []*database.Webhook
			if len(args) == 1 {
				hooks, err = db.Webhook.GetByRoom(cmd.Context(), id.RoomID(args[0]))
			} else {
				hooks, err = db.Webhook.GetAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROOM\tUSER\tURL")
			for _, hook := range hooks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", hook.ID, hook.RoomID, hook.UserID, bridge.HookURL(cfg.Webhooks.PublicURL, hook.Path))
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <room> <username>",
		Short: "Create a webhook that posts into room as hook_<username>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			roomID := id.RoomID(args[0])
			if len(roomID) == 0 || roomID[0] != '!' {
				return fmt.Errorf("invalid room ID %q", args[0])
			}
			ghost, err := bridge.MakeGhostID(args[1], cfg.Homeserver.Domain)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			reg := &webhook.Registration{Path: bridge.MakeHookPath(), RoomID: roomID, UserID: ghost}
			if err = db.Webhook.Insert(cmd.Context(), reg); err != nil {
				return err
			}
			log.Info().Int64("hook_id", reg.ID).Stringer("user_id", ghost).Msg("Created webhook")
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook #%d: %s\n", reg.ID, bridge.HookURL(cfg.Webhooks.PublicURL, reg.Path))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id> <room>",
		Short: "Delete a webhook from a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hookID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid webhook ID %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			deleted, err := db.Webhook.DeleteFromRoom(cmd.Context(), hookID, id.RoomID(args[1]))
			if err != nil {
				return err
			} else if !deleted {
				return fmt.Errorf("there is no webhook #%d in %s", hookID, args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook #%d deleted\n", hookID)
			return nil
		},
	})
	return cmd
}
