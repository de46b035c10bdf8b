package main

import (
	"fmt"
	"net"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/engine"
	"github.com/san-kum/cadsim/internal/remote"
)

// workerCmd serves bundles to ray_remote and remote golem providers.
func workerCmd() *cobra.Command {
	var (
		addr    string
		token   string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "serve run bundles over grpc",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(nil)
			opts := []engine.Option{engine.WithLogger(log), engine.WithBackend(config.SingleProcess)}
			if workers > 0 {
				opts = append(opts, engine.WithProcesses(workers))
			}
			eng, err := engine.New(opts...)
			if err != nil {
				return err
			}

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := remote.NewServer(eng, token, log)

			go func() {
				<-cmd.Context().Done()
				log.Info("shutting down worker")
				srv.GracefulStop()
			}()

			log.Info("worker listening", "addr", lis.Addr().String(), "processes", eng.Config().Processes)
			return srv.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7070", "listen address")
	cmd.Flags().StringVar(&token, "token", os.Getenv("CADSIM_TOKEN"), "bearer token required from clients")
	cmd.Flags().IntVar(&workers, "processes", 0, "parallel workers per bundle")
	return cmd
}

// agentCmd runs one bundle file the way a marketplace provider does.
func agentCmd() *cobra.Command {
	var bundlePath, paramsPath, outPath string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "execute a run bundle file and write its outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(bundlePath)
			if err != nil {
				return err
			}
			block, err := os.ReadFile(paramsPath)
			if err != nil {
				return err
			}
			params, err := bundle.UnmarshalParams(block)
			if err != nil {
				return err
			}

			log := newLogger(nil)
			result, err := engine.RunBundle(cmd.Context(), payload, params, engine.WithLogger(log))
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = bundlePath + ".out"
			}
			if err := os.WriteFile(outPath, result, 0644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%s)\n", outPath, humanize.Bytes(uint64(len(result))))
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "encoded run bundle")
	cmd.Flags().StringVar(&paramsPath, "params", "", "params block (json)")
	cmd.Flags().StringVar(&outPath, "out", "", "outcome file (default: <bundle>.out)")
	_ = cmd.MarkFlagRequired("bundle")
	_ = cmd.MarkFlagRequired("params")
	return cmd
}
