package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-verification-dapp/cmd/flags"
	"github.com/ruteri/identity-verification-dapp/config"
	"github.com/ruteri/identity-verification-dapp/orchestrator"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/session"
	"github.com/ruteri/identity-verification-dapp/storage"
	"github.com/ruteri/identity-verification-dapp/translator"
)

// client wires one session and orchestrator for a single command.
type client struct {
	cfg          *config.Config
	log          *slog.Logger
	sessions     *session.Manager
	orchestrator *orchestrator.Orchestrator
	uploader     *storage.IPFSUploader

	notes   chan orchestrator.Notification
	cleanup func()
}

func newClient(cCtx *cli.Context) (*client, error) {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}

	provider, cleanup, err := flags.SetupWallet(cCtx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway := registry.NewGateway(cfg.ContractAddress(), logger)
	sessions := session.NewManager(provider, gateway, cfg.SessionConfig(), logger)

	// Read-back is done explicitly so the command can print it
	orchCfg := cfg.OrchestratorConfig()
	orchCfg.RefetchDelay = -1
	orch := orchestrator.New(sessions, gateway, orchCfg, logger)

	c := &client{
		cfg:          cfg,
		log:          logger,
		sessions:     sessions,
		orchestrator: orch,
		uploader:     storage.NewIPFSUploader(cfg.IPFS.API, 0, logger),
		notes:        make(chan orchestrator.Notification, 8),
	}
	sub := orch.SubscribeNotifications(c.notes)
	go func() {
		for {
			select {
			case n := <-c.notes:
				fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Kind, n.Message)
			case <-sub.Err():
				return
			}
		}
	}()
	c.cleanup = func() {
		sub.Unsubscribe()
		cleanup()
	}
	return c, nil
}

func (c *client) Close() {
	c.orchestrator.Close()
	c.sessions.Close()
	c.cleanup()
}

func (c *client) connect(ctx context.Context) error {
	if err := c.sessions.Connect(ctx); err != nil {
		return err
	}
	snap := c.sessions.Snapshot()
	if !snap.Supported {
		fmt.Fprintf(os.Stderr, "warning: %s is not a supported network\n", snap.Network.Name)
	}
	return nil
}

type sessionInfo struct {
	Account  string             `json:"account"`
	Short    string             `json:"short_account"`
	State    string             `json:"state"`
	Network  translator.Network `json:"network"`
	Contract string             `json:"contract,omitempty"`
}

func (c *client) sessionInfo() sessionInfo {
	snap := c.sessions.Snapshot()
	info := sessionInfo{
		Account: snap.Session.Account.Hex(),
		Short:   translator.FormatAddress(snap.Session.Account.Hex()),
		State:   snap.Session.State.String(),
		Network: snap.Network,
	}
	if snap.Binding != nil {
		info.Contract = snap.Binding.Address.Hex()
	}
	return info
}

func (c *client) fetch(ctx context.Context, withContent bool) error {
	res, err := c.orchestrator.Fetch(ctx)
	if err != nil {
		return err
	}

	out := struct {
		*orchestrator.FetchResult
		GatewayURL string `json:"gateway_url,omitempty"`
		Content    string `json:"content,omitempty"`
	}{FetchResult: res}

	if res.Record != nil {
		out.GatewayURL, _ = storage.GatewayURL(c.cfg.IPFS.Gateway, res.Record.ContentHash)
		if withContent {
			data, err := c.uploader.Cat(ctx, res.Record.ContentHash)
			if err != nil {
				return fmt.Errorf("downloading document: %w", err)
			}
			out.Content = string(data)
		}
	}
	return printJSON(out)
}

func (c *client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash, err := c.uploader.Upload(ctx, f)
	if err != nil {
		return "", err
	}
	c.log.Info("Uploaded document", "hash", hash)
	return hash, nil
}
