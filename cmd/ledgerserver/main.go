package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/cmd/flags"
	"github.com/merova/confidential-batch-backend/cooldown"
	"github.com/merova/confidential-batch-backend/coordinator"
	"github.com/merova/confidential-batch-backend/events"
	"github.com/merova/confidential-batch-backend/httpserver"
	"github.com/merova/confidential-batch-backend/interfaces"
	"github.com/merova/confidential-batch-backend/ledger"
	"github.com/merova/confidential-batch-backend/oracle"
	"github.com/merova/confidential-batch-backend/storage"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.StoreURIFlag,
	flags.ArchiveURIFlag,
	flags.OwnerFlag,
	flags.IdentityFlag,
	flags.CooldownSecondsFlag,
	flags.OracleTypeFlag,
	flags.OracleURLFlag,
	flags.OracleSecretFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "ledger-server",
		Usage: "Serve the confidential batch ledger API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			owner, err := interfaces.NewAccountAddressFromHex(cCtx.String(flags.OwnerFlag.Name))
			if err != nil {
				logger.Error("Invalid owner address", "err", err)
				return err
			}
			identity := owner
			if raw := cCtx.String(flags.IdentityFlag.Name); raw != "" {
				identity, err = interfaces.NewAccountAddressFromHex(raw)
				if err != nil {
					logger.Error("Invalid identity address", "err", err)
					return err
				}
			}

			// Record store and optional archiver
			storageFactory := storage.NewFactory(logger)
			store, err := storageFactory.StoreFor(cCtx.String(flags.StoreURIFlag.Name))
			if err != nil {
				logger.Error("Failed to create record store", "err", err)
				return err
			}
			logger.Info("Record store ready", "store", store.Name(), "uri", store.LocationURI())

			var archiver interfaces.Archiver
			if archiveURI := cCtx.String(flags.ArchiveURIFlag.Name); archiveURI != "" {
				archiver, err = storageFactory.ArchiverFor(archiveURI)
				if err != nil {
					logger.Error("Failed to create archiver", "err", err)
					return err
				}
				logger.Info("Archiver ready", "archiver", archiver.Name())
			}

			// Ciphertext oracle
			var capability interfaces.CiphertextCapability
			switch oracleType := cCtx.String(flags.OracleTypeFlag.Name); oracleType {
			case "simple":
				secretHex := cCtx.String(flags.OracleSecretFlag.Name)
				if secretHex == "" {
					logger.Error("oracle-secret is required when using the simple oracle")
					return errors.New("oracle-secret is required for the simple oracle")
				}
				secret, err := hex.DecodeString(secretHex)
				if err != nil || len(secret) != 32 {
					logger.Error("Invalid oracle-secret - must be 64 hex chars (32 bytes)", "err", err)
					return fmt.Errorf("invalid oracle-secret: %v", err)
				}
				capability, err = oracle.NewSimpleOracle(secret)
				if err != nil {
					logger.Error("Failed to create simple oracle", "err", err)
					return err
				}
				logger.Info("Using simple in-process oracle")
			case "remote":
				oracleURL := cCtx.String(flags.OracleURLFlag.Name)
				if oracleURL == "" {
					logger.Error("oracle-url is required when using the remote oracle")
					return errors.New("oracle-url is required for the remote oracle")
				}
				capability = oracle.NewRemoteOracle(oracleURL)
				logger.Info("Using remote oracle", "url", oracleURL)
			default:
				logger.Error("Invalid oracle-type", "type", oracleType)
				return fmt.Errorf("invalid oracle-type: %s", oracleType)
			}

			// Core components
			sink := events.NewLogSink(logger)
			acl, err := accesscontrol.NewRegistry(owner, cooldownWindow(cCtx), store, sink, logger)
			if err != nil {
				logger.Error("Failed to create access control registry", "err", err)
				return err
			}
			guard := cooldown.NewGuard(acl.CooldownWindow)

			batchLedger, err := ledger.NewLedger(acl, guard, capability, store, sink, logger)
			if err != nil {
				logger.Error("Failed to create ledger", "err", err)
				return err
			}
			coord, err := coordinator.NewCoordinator(acl, guard, batchLedger, capability, identity, store, archiver, sink, logger)
			if err != nil {
				logger.Error("Failed to create coordinator", "err", err)
				return err
			}

			// HTTP server
			handler := httpserver.NewHandler(acl, batchLedger, coord, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
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

func cooldownWindow(cCtx *cli.Context) time.Duration {
	return time.Duration(cCtx.Int64(flags.CooldownSecondsFlag.Name)) * time.Second
}
