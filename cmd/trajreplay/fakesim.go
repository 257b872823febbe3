package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trajreplay/internal/sim"
	"trajreplay/internal/sim/simtest"
	"trajreplay/internal/simproto"
	"trajreplay/internal/transport/simhost"
)

func fakesimCmd() *cobra.Command {
	var (
		listen      string
		bottomLeft  bool
		successFrom int
	)
	cmd := &cobra.Command{
		Use:   "fakesim",
		Short: "Serve a deterministic in-memory simulator for smoke tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx, cancel := signalContext()
			defer cancel()

			host := simhost.NewServer(func(ctx context.Context, hello simproto.HelloMsg) (sim.Simulator, error) {
				logger.Printf("new session env=%s client=%s", hello.EnvName, hello.ClientName)
				f := simtest.New()
				f.SuccessFrom = successFrom
				return f, nil
			}, logger)
			host.SimVersion = "fakesim-" + version
			if bottomLeft {
				host.ImageOrigin = simproto.OriginBottomLeft
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/sim", host.Handler())
			srv := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel2()
				_ = srv.Shutdown(ctx2)
			}()

			logger.Printf("listening on ws://%s/sim", listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8765", "listen address")
	cmd.Flags().BoolVar(&bottomLeft, "bottom_left", false, "advertise bottom-left image origin")
	cmd.Flags().IntVar(&successFrom, "success_from", -1, "first step index that reports task success (-1 = never)")
	return cmd
}
