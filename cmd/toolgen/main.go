// Command toolgen converts an OpenAPI description into the tool definitions
// the dispatcher offers to the model.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/tool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "toolgen",
		Short:         "Generate tool definitions from an OpenAPI description",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log skipped schema fragments")

	logger := func() *zap.Logger {
		if !verbose {
			return zap.NewNop()
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}

	root.AddCommand(newGenerateCmd(logger), newListCmd(logger))
	return root
}

func newGenerateCmd(logger func() *zap.Logger) *cobra.Command {
	var spec, out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write {\"tools\": [...]} for an OpenAPI file or URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := load(cmd.Context(), spec, logger())
			if err != nil {
				return err
			}
			if out == "-" {
				return registry.WriteToolsFile(cmd.OutOrStdout(), defs)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			if err := registry.WriteToolsFile(f, defs); err != nil {
				_ = f.Close()
				return fmt.Errorf("generate: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d tools in %s\n", len(defs), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&spec, "spec", "s", "openapi.yaml", "OpenAPI file path or http(s) URL")
	cmd.Flags().StringVarP(&out, "out", "o", "openapi-tools.json", `Output file ("-" for stdout)`)
	return cmd
}

func newListCmd(logger func() *zap.Logger) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the name and description of every tool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := load(cmd.Context(), spec, logger())
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), defs)
		},
	}
	cmd.Flags().StringVarP(&spec, "spec", "s", "openapi.yaml", "OpenAPI file, tools file or http(s) URL")
	return cmd
}

func load(ctx context.Context, location string, logger *zap.Logger) ([]tool.Definition, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	defs, err := registry.NewSource(location, logger).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	return defs, nil
}

func printTools(w io.Writer, defs []tool.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREQUIRED\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Name, len(d.Parameters.Required), d.Description)
	}
	return tw.Flush()
}
