package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/interface/subscriptions"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/spf13/cobra"
)

type subscriptionConfig struct {
	Type             string
	Filter           string
	Collection       string
	Events           []string
	Status           string
	Endpoint         string
	EndpointUsername string
	EndpointPassword string
	Limit            int
}

func (cfg subscriptionConfig) endpoint() *subscriptions.Endpoint {
	if cfg.Endpoint == "" {
		return nil
	}
	return &subscriptions.Endpoint{URL: cfg.Endpoint, Username: cfg.EndpointUsername, Password: cfg.EndpointPassword}
}

func newSubscriptionsCmd() *cobra.Command {
	var cfg subscriptionConfig
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"sub"},
		Short:   "Manage the product subscriptions",
	}
	withClient := func(f func(ctx context.Context, c *subscriptions.Client, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			session, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			return f(cmd.Context(), subscriptions.NewClient(session, ""), args)
		}
	}
	endpointFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "notification endpoint (push)")
		c.Flags().StringVar(&cfg.EndpointUsername, "endpoint-username", "", "username of the notification endpoint")
		c.Flags().StringVar(&cfg.EndpointPassword, "endpoint-password", "", "password of the notification endpoint")
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a subscription",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *subscriptions.Client, _ []string) error {
			filter := odata.RawFilter(cfg.Filter)
			if cfg.Collection != "" {
				filter = odata.And(odata.Eq("Collection/Name", cfg.Collection), filter)
			}
			events := make([]subscriptions.Event, len(cfg.Events))
			for i, e := range cfg.Events {
				events[i] = subscriptions.Event(strings.ToLower(e))
			}
			info, err := c.Create(ctx, subscriptions.Type(strings.ToLower(cfg.Type)), filter, events, cfg.endpoint())
			if err != nil {
				return err
			}
			return writeJSON(info, "")
		}),
	}
	create.Flags().StringVar(&cfg.Type, "type", "pull", "pull or push")
	create.Flags().StringVar(&cfg.Filter, "filter", "", "OData filter of the products")
	create.Flags().StringVarP(&cfg.Collection, "collection", "c", "", "collection of the products")
	create.Flags().StringSliceVar(&cfg.Events, "event", []string{"created"}, "created, modified and/or deleted")
	endpointFlags(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the status or the endpoint of a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *subscriptions.Client, args []string) error {
			status := subscriptions.Status(strings.ToLower(cfg.Status))
			switch status {
			case "", subscriptions.StatusRunning, subscriptions.StatusPaused, subscriptions.StatusCanceled:
			default:
				return &service.ConfigError{Msg: fmt.Sprintf("invalid status: %s", cfg.Status)}
			}
			info, err := c.Update(ctx, args[0], status, cfg.endpoint())
			if err != nil {
				return err
			}
			return writeJSON(info, "")
		}),
	}
	update.Flags().StringVar(&cfg.Status, "status", "", "running, paused or canceled")
	endpointFlags(update)

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Read the notifications of a pull subscription",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *subscriptions.Client, args []string) error {
			entities, err := c.Read(ctx, args[0], cfg.Limit)
			if err != nil {
				return err
			}
			return writeJSON(entities, "")
		}),
	}
	read.Flags().IntVar(&cfg.Limit, "limit", subscriptions.MaxRead, "number of notifications")

	cmd.AddCommand(
		create,
		update,
		read,
		&cobra.Command{
			Use:   "list",
			Short: "List the subscriptions",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *subscriptions.Client, _ []string) error {
				infos, err := c.List(ctx)
				if err != nil {
					return err
				}
				return writeJSON(infos, "")
			}),
		},
		&cobra.Command{
			Use:   "info <id>",
			Short: "Describe a subscription",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, c *subscriptions.Client, args []string) error {
				info, err := c.Info(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(info, "")
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a subscription",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, c *subscriptions.Client, args []string) error {
				return c.Delete(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "ack <id> <ack-id>",
			Short: "Acknowledge the notifications of a pull subscription up to ack-id",
			Args:  cobra.ExactArgs(2),
			RunE: withClient(func(ctx context.Context, c *subscriptions.Client, args []string) error {
				info, err := c.Ack(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(info, "")
			}),
		},
	)
	return cmd
}
