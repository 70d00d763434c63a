package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/merova/confidential-batch-backend/cmd/flags"
	"github.com/merova/confidential-batch-backend/httpserver"
	"github.com/merova/confidential-batch-backend/interfaces"
)

func main() {
	app := &cli.App{
		Name:  "ledgerctl",
		Usage: "Operate a confidential batch ledger service",
		Flags: []cli.Flag{
			flags.ServerURLFlag,
			flags.AccountFlag,
		},
		Commands: []*cli.Command{
			{
				Name:      "transfer-ownership",
				Usage:     "Hand the owner role to another account",
				ArgsUsage: "<new-owner-address>",
				Action: func(cCtx *cli.Context) error {
					newOwner, err := interfaces.NewAccountAddressFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					return newClient(cCtx).TransferOwnership(newOwner)
				},
			},
			{
				Name:      "add-provider",
				Usage:     "Grant the provider role to an account",
				ArgsUsage: "<provider-address>",
				Action: func(cCtx *cli.Context) error {
					provider, err := interfaces.NewAccountAddressFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					return newClient(cCtx).AddProvider(provider)
				},
			},
			{
				Name:      "remove-provider",
				Usage:     "Revoke the provider role from an account",
				ArgsUsage: "<provider-address>",
				Action: func(cCtx *cli.Context) error {
					provider, err := interfaces.NewAccountAddressFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					return newClient(cCtx).RemoveProvider(provider)
				},
			},
			{
				Name:  "pause",
				Usage: "Pause mutating ledger operations",
				Action: func(cCtx *cli.Context) error {
					return newClient(cCtx).SetPaused(true)
				},
			},
			{
				Name:  "unpause",
				Usage: "Resume mutating ledger operations",
				Action: func(cCtx *cli.Context) error {
					return newClient(cCtx).SetPaused(false)
				},
			},
			{
				Name:      "set-cooldown",
				Usage:     "Update the per-actor cooldown window",
				ArgsUsage: "<seconds>",
				Action: func(cCtx *cli.Context) error {
					seconds, err := strconv.ParseInt(cCtx.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid seconds argument: %w", err)
					}
					return newClient(cCtx).SetCooldownWindow(time.Duration(seconds) * time.Second)
				},
			},
			{
				Name:      "register-asset",
				Usage:     "Append an asset to the ordered registry",
				ArgsUsage: "<asset-id>",
				Action: func(cCtx *cli.Context) error {
					asset, err := interfaces.NewAssetID(cCtx.Args().First())
					if err != nil {
						return err
					}
					return newClient(cCtx).RegisterAsset(asset)
				},
			},
			{
				Name:  "open-batch",
				Usage: "Open the next batch",
				Action: func(cCtx *cli.Context) error {
					id, err := newClient(cCtx).OpenBatch()
					if err != nil {
						return err
					}
					fmt.Printf("opened batch %d\n", id)
					return nil
				},
			},
			{
				Name:  "close-batch",
				Usage: "Close the current batch",
				Action: func(cCtx *cli.Context) error {
					return newClient(cCtx).CloseBatch()
				},
			},
			{
				Name:      "submit",
				Usage:     "Store an encrypted value into a batch",
				ArgsUsage: "<batch-id> <asset-id> <amount|hedge> <handle-hex>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 4 {
						return fmt.Errorf("expected 4 arguments, got %d", cCtx.NArg())
					}
					batch, err := strconv.ParseUint(cCtx.Args().Get(0), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid batch id: %w", err)
					}
					asset, err := interfaces.NewAssetID(cCtx.Args().Get(1))
					if err != nil {
						return err
					}
					kind, err := interfaces.ParseSubmissionKind(cCtx.Args().Get(2))
					if err != nil {
						return err
					}
					handle, err := interfaces.NewCiphertextHandleFromHex(cCtx.Args().Get(3))
					if err != nil {
						return err
					}
					return newClient(cCtx).Submit(interfaces.BatchID(batch), asset, kind, handle)
				},
			},
			{
				Name:      "request-decryption",
				Usage:     "Issue a decryption request for a closed batch",
				ArgsUsage: "<batch-id>",
				Action: func(cCtx *cli.Context) error {
					batch, err := strconv.ParseUint(cCtx.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid batch id: %w", err)
					}
					id, err := newClient(cCtx).RequestDecryption(interfaces.BatchID(batch))
					if err != nil {
						return err
					}
					fmt.Printf("decryption request %s\n", id)
					return nil
				},
			},
			{
				Name:      "deliver-callback",
				Usage:     "Deliver an oracle response to the coordinator",
				ArgsUsage: "<request-id> <proof-hex> <cleartext>...",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() < 2 {
						return fmt.Errorf("expected at least 2 arguments, got %d", cCtx.NArg())
					}
					requestID, err := interfaces.NewRequestIDFromHex(cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					proof, err := hex.DecodeString(cCtx.Args().Get(1))
					if err != nil {
						return fmt.Errorf("invalid proof hex: %w", err)
					}
					var cleartexts []*big.Int
					for i := 2; i < cCtx.NArg(); i++ {
						v, ok := new(big.Int).SetString(cCtx.Args().Get(i), 10)
						if !ok {
							return fmt.Errorf("invalid cleartext %q", cCtx.Args().Get(i))
						}
						cleartexts = append(cleartexts, v)
					}
					return newClient(cCtx).OracleCallback(requestID, cleartexts, proof)
				},
			},
			{
				Name:  "state",
				Usage: "Print the public system state",
				Action: func(cCtx *cli.Context) error {
					state, err := newClient(cCtx).State()
					if err != nil {
						return err
					}
					out, err := json.MarshalIndent(state, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(out))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *httpserver.Client {
	account, err := interfaces.NewAccountAddressFromHex(cCtx.String(flags.AccountFlag.Name))
	if err != nil {
		log.Fatalf("invalid account address: %v", err)
	}
	return httpserver.NewClient(cCtx.String(flags.ServerURLFlag.Name), account)
}
