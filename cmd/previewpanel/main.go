// Command previewpanel attaches to a page target's DevTools WebSocket
// endpoint, drives it like a preview panel and optionally streams screencast
// frames to disk.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/previewpanel/cdp"
	"github.com/previewpanel/cdp/config"
	"github.com/previewpanel/cdp/panel"
	"github.com/previewpanel/cdp/wstransport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		endpoint    string
		startURL    string
		verbose     bool
		framesDir   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "previewpanel",
		Short: "Drive a browser page target over its DevTools protocol endpoint",
		Long: `previewpanel connects to a page target's WebSocket debugger URL,
navigates it to a start URL, applies viewport metrics and streams
screencast frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.Endpoint = endpoint
			}
			if cmd.Flags().Changed("start-url") {
				cfg.StartURL = startURL
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}

			return run(cfg, framesDir, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", config.DefaultEndpoint, "WebSocket debugger URL of the page target")
	cmd.Flags().StringVarP(&startURL, "start-url", "u", config.DefaultStartURL, "URL to open once connected")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "mirror raw wire traffic to the log")
	cmd.Flags().StringVar(&framesDir, "frames-dir", "", "write received screencast frames into this directory")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func run(cfg config.Config, framesDir, metricsAddr string) error {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	transport, err := wstransport.Dial(dialCtx, cfg.Endpoint)
	if err != nil {
		return err
	}
	log.Info("connected", slog.String("endpoint", cfg.Endpoint))

	connOpts := []cdp.ConnOpt{cdp.WithCallTimeout(30 * time.Second)}
	if metricsAddr != "" {
		connOpts = append(connOpts, cdp.WithMetrics(cdp.NewMetrics(prometheus.DefaultRegisterer)))
		go serveMetrics(log, metricsAddr)
	}

	conn := cdp.NewConn(transport, log, connOpts...)
	defer conn.Close()
	conn.SetVerbose(cfg.Verbose)

	panelOpts := []panel.Option{
		panel.WithTitleSink(func(title string) {
			log.Info("title changed", slog.String("title", title))
		}),
	}
	if framesDir != "" {
		if err := os.MkdirAll(framesDir, 0o755); err != nil {
			return fmt.Errorf("frames dir: %w", err)
		}
		panelOpts = append(panelOpts, panel.WithFrameSink(frameWriter(log, framesDir, cfg.Screencast.Format)))
	}

	p := panel.New(conn, log, panelOpts...)

	if err := p.Enable(ctx); err != nil {
		return fmt.Errorf("enable page events: %w", err)
	}
	if err := p.SetViewport(ctx, panel.Viewport{
		Width:             cfg.Viewport.Width,
		Height:            cfg.Viewport.Height,
		DeviceScaleFactor: cfg.Viewport.Scale,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := p.Navigate(ctx, cfg.StartURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if framesDir != "" {
		if err := p.StartScreencast(ctx, panel.ScreencastOptions{
			Format:    cfg.Screencast.Format,
			MaxWidth:  cfg.Screencast.MaxWidth,
			MaxHeight: cfg.Screencast.MaxHeight,
		}); err != nil {
			return fmt.Errorf("start screencast: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if framesDir != "" {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.StopScreencast(shutdownCtx); err != nil {
				log.Warn("stop screencast", slog.String("error", err.Error()))
			}
		}
	case <-conn.Done():
		log.Info("connection closed by remote")
	}

	return nil
}

// frameWriter returns a sink that persists each frame as a numbered image.
func frameWriter(log *slog.Logger, dir, format string) panel.FrameFunc {
	var seq atomic.Int64
	return func(f panel.Frame) {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			log.Warn("bad frame data", slog.String("error", err.Error()))
			return
		}
		name := filepath.Join(dir, fmt.Sprintf("frame-%06d.%s", seq.Add(1), format))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			log.Warn("write frame", slog.String("error", err.Error()))
		}
	}
}

func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server", slog.String("error", err.Error()))
	}
}
