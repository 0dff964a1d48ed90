package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-verification-dapp/cmd/flags"
	"github.com/ruteri/identity-verification-dapp/httpserver"
	"github.com/ruteri/identity-verification-dapp/orchestrator"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/session"
)

var flagConnect = &cli.BoolFlag{
	Name:    "connect",
	EnvVars: []string{"IDENTITY_CONNECT"},
	Usage:   "connect the wallet on startup",
}

func main() {
	var appFlags []cli.Flag
	appFlags = append(appFlags, flags.LogFlags...)
	appFlags = append(appFlags, flags.ConfigFlags...)
	appFlags = append(appFlags, flags.WalletFlags...)
	appFlags = append(appFlags, flags.ServerFlags...)
	appFlags = append(appFlags, flagConnect)

	app := &cli.App{
		Name:  "identityd",
		Usage: "Serve the identity registration API for one wallet",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			provider, cleanup, err := flags.SetupWallet(cCtx, cfg, logger)
			if err != nil {
				logger.Error("Failed to set up wallet", "err", err)
				return err
			}
			defer cleanup()

			gateway := registry.NewGateway(cfg.ContractAddress(), logger)
			sessions := session.NewManager(provider, gateway, cfg.SessionConfig(), logger)
			orch := orchestrator.New(sessions, gateway, cfg.OrchestratorConfig(), logger)
			handler := httpserver.NewHandler(sessions, orch, cfg.IPFS.Gateway, logger)

			if cCtx.Bool(flagConnect.Name) {
				ctx, cancel := context.WithTimeout(cCtx.Context, cfg.Session.ConnectTimeout)
				if err := sessions.Connect(ctx); err != nil {
					logger.Warn("Initial wallet connection failed", "err", err)
				}
				cancel()
			}

			server := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop",
				"app", cfg.App.Name,
				"contract", cfg.Chain.ContractAddress)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
