package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/metrics"
	"github.com/colorfulnotion/avm/vm/trace"
)

func newRunCmd() *cobra.Command {
	var (
		inputHex     string
		gas          uint64
		tracePath    string
		tree         bool
		steps        bool
		metricsAddr  string
		otlpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Invoke an image and print the invocation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code, err := readImage(args[0])
			if err != nil {
				return err
			}
			input, err := parseHex(inputHex)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				metrics.InitializePrometheusMetrics()
			}
			if otlpEndpoint != "" {
				shutdown, err := setupTracing(ctx, otlpEndpoint)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			opts := []avm.Option{avm.WithTrace(tree || steps)}
			if tracePath != "" {
				w, err := trace.NewJSONLTraceWriterFile(tracePath)
				if err != nil {
					return err
				}
				defer w.Close()
				opts = append(opts, avm.WithTraceWriter(w))
			}
			a, err := newAVM(opts...)
			if err != nil {
				return err
			}
			inv, err := a.Invoke(ctx, code, input, gas)
			if err != nil {
				return err
			}
			if tree {
				fmt.Println(callTree(inv.Trace).String())
			}
			if !steps {
				inv.Trace = nil
			}
			if err := printJSON(inv); err != nil {
				return err
			}
			if metricsAddr != "" {
				return serveMetrics(ctx, metricsAddr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputHex, "input", "", "call input as hex")
	cmd.Flags().Uint64Var(&gas, "gas", avm.DefaultTxGas, "gas limit")
	cmd.Flags().StringVar(&tracePath, "trace", "", "stream executed steps to this JSONL file")
	cmd.Flags().BoolVar(&tree, "tree", false, "print the call tree")
	cmd.Flags().BoolVar(&steps, "steps", false, "include every executed step in the output")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address after the run")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "export spans to this OTLP/HTTP collector (host:port)")
	return cmd
}

// setupTracing installs a global tracer provider exporting to endpoint.
func setupTracing(ctx context.Context, endpoint string) (func(), error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn(log.CLIMonitoring, "tracer shutdown", "err", err)
		}
	}, nil
}

// serveMetrics blocks until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Info(log.CLIMonitoring, "serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
