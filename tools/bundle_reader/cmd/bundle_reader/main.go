package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	sinkpkg "chicken/broker/internal/grpc"
	bundlecatalog "chicken/broker/tools/bundle_catalog"
	bundlereader "chicken/broker/tools/bundle_reader"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bundle_reader",
		Short:         "Inspect experiment bundles and collected submissions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(newListCommand(), newShowCommand(), newSubmissionCommand())
	return root
}

func newListCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list [dir]",
		Short: "List the bundles under a directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			entries, err := bundlecatalog.List(root)
			if err != nil {
				return err
			}
			if asJSON {
				payload, err := bundlecatalog.MarshalEntries(entries)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return err
			}
			for _, entry := range entries {
				state := "open"
				if !entry.Open() {
					state = "sealed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", entry.Manifest.SessionID, entry.Manifest.CreatedAt, state)
				if entry.Header != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  seed: %d trials: %d points: %d code: %s\n",
						entry.Header.Seed, entry.Header.Trials, entry.Header.TotalPoints, entry.Header.CompletionCode)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  dir: %s\n", entry.Dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of human-readable output")
	return cmd
}

func newShowCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show <bundle-dir>",
		Short: "Summarise one bundle, optionally with every event and sample.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, summary, err := bundlereader.Load(args[0])
			if err != nil {
				return err
			}
			if full {
				return writeJSON(cmd.OutOrStdout(), bundle)
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "dump the decoded events and trajectories")
	return cmd
}

func newSubmissionCommand() *cobra.Command {
	var compressor string
	cmd := &cobra.Command{
		Use:   "submission <file>",
		Short: "Decode a submission stored by the results collector.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := sinkpkg.CompressorByName(compressor)
			if err != nil {
				return err
			}
			doc, err := sinkpkg.ReadSubmission(args[0], codec)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&compressor, "compressor", "gzip", "compressor the collector was configured with (gzip or zstd)")
	return cmd
}

func writeJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
