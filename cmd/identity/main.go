package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-verification-dapp/cmd/flags"
	"github.com/ruteri/identity-verification-dapp/storage"
	"github.com/ruteri/identity-verification-dapp/translator"
)

var flagName = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "name to register (2-50 letters, digits, spaces, hyphens or apostrophes)",
}

var flagContentHash = &cli.StringFlag{
	Name:  "ipfs-hash",
	Usage: "CIDv0 of the identity document",
}

var flagFile = &cli.StringFlag{
	Name:  "file",
	Usage: "upload this document to IPFS first and register its hash",
}

var flagContent = &cli.BoolFlag{
	Name:  "content",
	Usage: "also download the registered document from the IPFS node",
}

func main() {
	app := &cli.App{
		Name:  "identity",
		Usage: "Register and look up identities on the IdentityVerification contract",
		Flags: concat(flags.LogFlags, flags.ConfigFlags, flags.WalletFlags),
		Commands: []*cli.Command{
			{
				Name:  "connect",
				Usage: "connect the wallet and show the session",
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()

					if err := c.connect(cCtx.Context); err != nil {
						return err
					}
					return printJSON(c.sessionInfo())
				},
			},
			{
				Name:  "register",
				Usage: "register a name and document hash for the connected account",
				Flags: []cli.Flag{flagName, flagContentHash, flagFile},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()

					hash := cCtx.String(flagContentHash.Name)
					if path := cCtx.String(flagFile.Name); path != "" {
						if hash, err = c.upload(cCtx.Context, path); err != nil {
							return err
						}
					}
					if hash == "" {
						return fmt.Errorf("%w: --ipfs-hash or --file", flags.ErrNoCommandArgument)
					}

					if err := c.connect(cCtx.Context); err != nil {
						return err
					}
					res, err := c.orchestrator.Register(cCtx.Context, cCtx.String(flagName.Name), hash)
					if err != nil {
						return err
					}
					if err := printJSON(res); err != nil {
						return err
					}
					delay, readBack := c.cfg.ReadBackDelay()
					if res.Stale || !readBack {
						return nil
					}

					// Give the node time to serve the new state before reading it back
					time.Sleep(delay)
					return c.fetch(cCtx.Context, false)
				},
			},
			{
				Name:  "fetch",
				Usage: "show the identity registered for the connected account",
				Flags: []cli.Flag{flagContent},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()

					if err := c.connect(cCtx.Context); err != nil {
						return err
					}
					return c.fetch(cCtx.Context, cCtx.Bool(flagContent.Name))
				},
			},
			{
				Name:      "network",
				Usage:     "describe a chain id",
				ArgsUsage: "<chain_id>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("%w: chain id", flags.ErrNoCommandArgument)
					}
					chainID, err := strconv.ParseUint(cCtx.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid chain id: %w", err)
					}
					return printJSON(translator.DescribeNetwork(chainID))
				},
			},
			{
				Name:      "upload",
				Usage:     "upload a document to IPFS and print its registrable hash",
				ArgsUsage: "<file>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("%w: file", flags.ErrNoCommandArgument)
					}
					cfg, err := flags.LoadConfig(cCtx)
					if err != nil {
						return err
					}
					uploader := storage.NewIPFSUploader(cfg.IPFS.API, 0, flags.SetupLogger(cCtx))

					f, err := os.Open(cCtx.Args().First())
					if err != nil {
						return err
					}
					defer f.Close()

					hash, err := uploader.Upload(cCtx.Context, f)
					if err != nil {
						return err
					}
					link, _ := storage.GatewayURL(cfg.IPFS.Gateway, hash)
					return printJSON(map[string]string{"ipfs_hash": hash, "gateway_url": link})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(translator.Message(err))
	}
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
