package main

import (
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/cdse-dl/downloader"
	"github.com/airbusgeo/cdse-dl/interface/trace"
	"github.com/spf13/cobra"
)

func newTraceCmd() *cobra.Command {
	var params trace.ObsoleteParams
	client := func() *trace.Client { return trace.NewClient(nil, "") }

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the traceability service",
	}
	obsolete := &cobra.Command{
		Use:   "obsolete",
		Short: "List the obsolete traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			traces, err := client().Obsolete(cmd.Context(), params)
			if err != nil {
				return err
			}
			return writeJSON(traces, "")
		},
	}
	obsolete.Flags().StringVar(&params.NamePrefix, "name-prefix", "", "prefix of the product names")
	obsolete.Flags().StringVar(&params.Start, "start", "", "created after (ISO 8601)")
	obsolete.Flags().StringVar(&params.End, "end", "", "created before (ISO 8601)")
	obsolete.Flags().StringVar(&params.After, "after", "", "obsolete after (ISO 8601)")

	cmd.AddCommand(
		obsolete,
		&cobra.Command{
			Use:   "id <id>",
			Short: "Get a trace by id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := client().FromID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(t, "")
			},
		},
		&cobra.Command{
			Use:   "name <product-name>",
			Short: "Get the traces of a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				traces, err := client().FromName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(traces, "")
			},
		},
		&cobra.Command{
			Use:   "hash <hash>",
			Short: "Get the traces of a product by hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				traces, err := client().FromHash(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(traces, "")
			},
		},
		&cobra.Command{
			Use:   "validate <file>",
			Short: "Check the BLAKE3 hash of a downloaded product against its trace",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				hash, err := downloader.FileHash(cmd.Context(), args[0], "BLAKE3")
				if err != nil {
					return err
				}
				name := filepath.Base(args[0])
				valid, err := client().Validate(cmd.Context(), name, hash)
				if err != nil {
					return err
				}
				if !valid {
					return fmt.Errorf("%s does not match its trace (blake3: %s)", name, hash)
				}
				fmt.Printf("%s: OK\n", name)
				return nil
			},
		},
	)
	return cmd
}
