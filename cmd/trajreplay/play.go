package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trajreplay/internal/config"
	"trajreplay/internal/console"
	"trajreplay/internal/dataset"
	"trajreplay/internal/metrics"
	"trajreplay/internal/persistence/report"
	"trajreplay/internal/replay"
	"trajreplay/internal/sim"
	"trajreplay/internal/sim/remote"
	"trajreplay/internal/simproto"
	"trajreplay/internal/transport/viewer"
	"trajreplay/internal/videosink"
)

func playCmd() *cobra.Command {
	flags := config.Defaults()
	var configPath string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Replay episodes by state injection or action replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					if errors.Is(err, replay.ErrConfig) {
						return err
					}
					return fmt.Errorf("%w: %w", replay.ErrConfig, err)
				}
				config.Overlay(&loaded, flags, cmd.Flags().Changed)
				cfg = loaded
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runPlay(ctx, cfg, newLogger())
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML run file; flags given on the command line override it")
	f.StringVar(&flags.Dataset, "dataset", flags.Dataset, "path to the episode container")
	f.StringVar(&flags.FilterKey, "filter_key", flags.FilterKey, "replay only the episodes in this filter mask")
	f.IntVar(&flags.N, "n", flags.N, "replay a random sample of this many episodes (0 = all)")
	f.Int64Var(&flags.Seed, "seed", flags.Seed, "seed for --n sampling")
	f.BoolVar(&flags.UseActions, "use-actions", flags.UseActions, "replay recorded actions open-loop and check divergence")
	f.BoolVar(&flags.UseObs, "use-obs", flags.UseObs, "write stored image observations instead of simulating")
	f.BoolVar(&flags.Render, "render", flags.Render, "render on screen")
	f.StringVar(&flags.VideoPath, "video_path", flags.VideoPath, "write frames to this file; defaults to one next to the dataset unless --render is set")
	f.IntVar(&flags.VideoSkip, "video_skip", flags.VideoSkip, "write one frame every this many steps")
	f.StringSliceVar(&flags.RenderImageNames, "render_image_names", flags.RenderImageNames, "cameras (or observation names with --use-obs) to render")
	f.IntVar(&flags.Width, "width", flags.Width, "render width in pixels")
	f.IntVar(&flags.Height, "height", flags.Height, "render height in pixels")
	f.IntVar(&flags.FPS, "fps", flags.FPS, "frame rate recorded in the video header")
	f.BoolVar(&flags.First, "first", flags.First, "stop each episode after its first step")
	f.BoolVar(&flags.ExtendStates, "extend_states", flags.ExtendStates, "hold the last state for extra frames at the end of each episode")
	f.BoolVar(&flags.Verbose, "verbose", flags.Verbose, "print progress and every divergence")
	f.BoolVar(&flags.UseCurrentModel, "use_current_model", flags.UseCurrentModel, "restore onto the simulator's live model instead of the recorded one")
	f.StringVar(&flags.SimURL, "sim_url", flags.SimURL, "simulator host websocket URL")
	f.StringVar(&flags.ViewerListen, "viewer_listen", flags.ViewerListen, "listen address for the browser viewer used by --render")
	f.StringVar(&flags.Report, "report", flags.Report, "append per-episode results to this .jsonl.zst file")
	f.StringVar(&flags.MetricsOut, "metrics_out", flags.MetricsOut, "write Prometheus text metrics to this file when the run ends")
	return cmd
}

func runPlay(ctx context.Context, cfg config.RunConfig, logger *log.Logger) (err error) {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	printer := console.New(logger)

	store, err := dataset.Open(ctx, cfg.Dataset, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", replay.ErrResource, err)
	}
	defer store.Close()

	rc := replay.Config{
		Store:   store,
		Log:     logger,
		Printer: printer,
		OpenSink: func(path string, fps int) (replay.FrameSink, error) {
			w, err := videosink.Create(path, fps)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
	}
	if opts.Verbose {
		rc.OnDivergence = func(episode string, d replay.Divergence) {
			logger.Printf("%s step=%d exact=%v dist=%g", episode, d.Step, d.ExactMatch, d.Distance)
		}
	}

	if cfg.MetricsOut != "" {
		rc.Metrics = metrics.New()
		defer func() {
			if werr := rc.Metrics.WriteFile(cfg.MetricsOut); werr != nil {
				printer.Warn("could not write metrics to %s: %v", cfg.MetricsOut, werr)
			}
		}()
	}

	if cfg.Report != "" {
		rep, err := report.Open(cfg.Report)
		if err != nil {
			return fmt.Errorf("%w: open report: %w", replay.ErrResource, err)
		}
		defer func() {
			if cerr := rep.Close(); cerr != nil {
				printer.Warn("could not close report %s: %v", cfg.Report, cerr)
			}
		}()
		logger.Printf("report run_id=%s path=%s", rep.RunID(), rep.Path())
		rc.Report = rep
	}

	if !opts.UseObs {
		envArgs, ok, err := store.EnvArgs(ctx)
		if err != nil {
			return fmt.Errorf("%w: read env args: %w", replay.ErrResource, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s has no environment description", replay.ErrResource, cfg.Dataset)
		}
		if opts.Verbose {
			printer.Progress("Spawning environment...")
		}
		client, err := remote.Dial(ctx, cfg.SimURL, simproto.HelloMsg{
			EnvName:   envArgs.EnvName,
			EnvKwargs: envKwargs(envArgs, opts.WritesVideo()),
		}, remote.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("%w: %w", replay.ErrResource, err)
		}
		defer client.Close()
		rc.Sim = sim.NewHandle(client)
		if opts.Verbose {
			printer.Detail("simulator capabilities: %v", rc.Sim.Capabilities())
		}

		if opts.Screen {
			if _, ok := rc.Sim.Viewer(); !ok {
				vs, stop, err := startViewer(rc.Sim, opts, cfg.ViewerListen, logger)
				if err != nil {
					return fmt.Errorf("%w: start viewer: %w", replay.ErrResource, err)
				}
				defer stop()
				printer.Progress("Viewer at http://%s/", cfg.ViewerListen)
				rc.Viewer = vs
			}
		}
	}

	sum, err := replay.New(rc).Run(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(printer, sum)
	return nil
}

// envKwargs derives the simulator constructor arguments from the recorded ones. On-screen
// rendering is never requested from the host; offscreen rendering only when frames are written.
func envKwargs(args dataset.EnvArgs, offscreen bool) map[string]any {
	kw := make(map[string]any, len(args.EnvKwargs)+4)
	for k, v := range args.EnvKwargs {
		kw[k] = v
	}
	kw["has_renderer"] = false
	kw["renderer"] = "mjviewer"
	kw["has_offscreen_renderer"] = offscreen
	kw["use_camera_obs"] = false
	delete(kw, "env_lang")
	return kw
}

// startViewer serves the browser viewer for hosts that have no on-screen window of their own.
func startViewer(h *sim.Handle, opts replay.Options, addr string, logger *log.Logger) (*viewer.Server, func(), error) {
	camera := opts.Cameras[0]
	vs := viewer.NewServer(func(ctx context.Context) (*image.RGBA, error) {
		return h.Render(ctx, camera, opts.Width, opts.Height)
	}, logger)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           vs.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("viewer: %v", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return vs, stop, nil
}

func printSummary(p *console.Printer, sum replay.Summary) {
	var checked, diverged, succeeded int
	for _, ep := range sum.Episodes {
		checked += ep.Checked
		diverged += ep.Diverged
		if ep.Success {
			succeeded++
		}
	}
	p.Detail("replayed %d episodes, %d frames written", len(sum.Episodes), sum.Frames)
	if checked > 0 {
		p.Detail("divergence: %d of %d transitions inexact; %d episodes reached success", diverged, checked, succeeded)
	}
}
