package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kansoku/internal/tracing"
)

func newHeaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "header",
		Short: "Encode and decode traceparent headers",
	}
	cmd.AddCommand(newHeaderDecodeCmd(), newHeaderNewCmd())
	return cmd
}

func newHeaderDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <traceparent>",
		Short: "Print the trace id, span id and sampled flag of a header",
		Long: `Decode a traceparent header value.

Examples:
  kansoku header decode 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, ok := tracing.Decode(args[0])
			out := cmd.OutOrStdout()
			if !ok {
				_, _ = fmt.Fprintln(out, "invalid")
				return fmt.Errorf("header: %q is not a valid traceparent", args[0])
			}
			_, _ = fmt.Fprintf(out, "trace_id=%s span_id=%s sampled=%t\n", sc.TraceID, sc.SpanID, sc.Sampled)
			return nil
		},
	}
}

func newHeaderNewCmd() *cobra.Command {
	var unsampled bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Print a traceparent for a fresh root span",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ratio := 1.0
			if unsampled {
				ratio = 0
			}
			tracer := tracing.NewTracer(tracing.WithSampler(tracing.NewRatioSampler(ratio)))
			span := tracer.StartSpan(context.Background(), "cli")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tracing.Encode(span.SpanContext()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&unsampled, "unsampled", false, "clear the sampled flag")
	return cmd
}
