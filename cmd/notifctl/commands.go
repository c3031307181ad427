package main

import (
	"context"
	"fmt"

	"notifgate/internal/app"
	"notifgate/internal/domain/notification"

	"github.com/spf13/cobra"
)

func clientCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage the client directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create [email]",
		Short: "Register a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Clients.Create(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [id]",
		Short: "Show a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Clients.Get(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Clients.List(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a client without notification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				if err := a.Clients.Delete(ctx, args[0]); err != nil {
					return nil, err
				}
				return fmt.Sprintf("client %s deleted", args[0]), nil
			})
		},
	})

	return cmd
}

func typeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type",
		Short: "Manage notification types and their rate limits",
	}

	var maxOccurrences, windowMinutes int
	policyFlags := func(sub *cobra.Command) {
		sub.Flags().IntVar(&maxOccurrences, "max", 0, "Maximum notifications per client within the window")
		sub.Flags().IntVar(&windowMinutes, "window", 0, "Window length in minutes")
		_ = sub.MarkFlagRequired("max")
		_ = sub.MarkFlagRequired("window")
	}

	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a notification type",
		Long: `Create a notification type with its rate limit policy.

Examples:
  # At most one News notification per client per day
  notifctl type create News --max 1 --window 1440`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.CreateType(ctx, &notification.TypeRequest{
					Name:           args[0],
					MaxOccurrences: maxOccurrences,
					WindowMinutes:  windowMinutes,
				})
			})
		},
	}
	policyFlags(create)
	cmd.AddCommand(create)

	edit := &cobra.Command{
		Use:   "edit [name]",
		Short: "Replace the rate limit policy of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.EditType(ctx, args[0], &notification.PolicyRequest{
					MaxOccurrences: maxOccurrences,
					WindowMinutes:  windowMinutes,
				})
			})
		},
	}
	policyFlags(edit)
	cmd.AddCommand(edit)

	cmd.AddCommand(&cobra.Command{
		Use:   "get [name]",
		Short: "Show a notification type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.GetType(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List notification types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.ListTypes(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a notification type without notification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				if err := a.Notifications.DeleteType(ctx, args[0]); err != nil {
					return nil, err
				}
				return fmt.Sprintf("notification type %s deleted", args[0]), nil
			})
		},
	})

	return cmd
}

func sendCmd(c *cli) *cobra.Command {
	var req notification.SendRequest

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification if the type's rate limit allows it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.Send(ctx, &req)
			})
		},
	}

	cmd.Flags().StringVar(&req.Type, "type", "", "Notification type name")
	cmd.Flags().StringVar(&req.ClientID, "client", "", "Recipient client ID")
	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "Message body")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("client")

	return cmd
}

func logCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the notification log",
	}

	var filter notification.ListFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List sent notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Notifications.ListRecords(ctx, filter)
			})
		},
	}
	list.Flags().StringVar(&filter.ClientID, "client", "", "Only this client's notifications")
	list.Flags().StringVar(&filter.Type, "type", "", "Only notifications of this type")
	list.Flags().IntVar(&filter.Page, "page", 1, "Page number")
	list.Flags().IntVar(&filter.PageSize, "page-size", 20, "Records per page (max 100)")
	cmd.AddCommand(list)

	return cmd
}
