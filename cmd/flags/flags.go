// Package flags holds the CLI flags and helpers shared by the ledger
// binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/merova/confidential-batch-backend/common"
	"github.com/merova/confidential-batch-backend/httpserver"
)

// SetupLogger creates the structured logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		Log:                      logger,
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var StoreURIFlag = &cli.StringFlag{
	Name:  "store-uri",
	Value: "mem://",
	Usage: "record store location: mem://, file://, sqlite://, s3:// or vault://",
}

var ArchiveURIFlag = &cli.StringFlag{
	Name:  "archive-uri",
	Usage: "optional archive location for finalized results: ipfs:// or file://",
}

var OwnerFlag = &cli.StringFlag{
	Name:     "owner",
	Required: true,
	Usage:    "initial owner account. 40-char hex string with no 0x prefix",
}

var IdentityFlag = &cli.StringFlag{
	Name:  "identity",
	Usage: "system identity account mixed into state hashes. Defaults to the owner",
}

var CooldownSecondsFlag = &cli.Int64Flag{
	Name:  "cooldown-seconds",
	Value: 60,
	Usage: "initial per-actor cooldown window in seconds",
}

var OracleTypeFlag = &cli.StringFlag{
	Name:  "oracle-type",
	Value: "simple",
	Usage: "ciphertext oracle to use: 'simple' or 'remote'",
}

var OracleURLFlag = &cli.StringFlag{
	Name:  "oracle-url",
	Usage: "base URL of the remote oracle service (required if oracle-type is 'remote')",
}

var OracleSecretFlag = &cli.StringFlag{
	Name:  "oracle-secret",
	Usage: "hex-encoded 32-byte secret for the simple oracle (required if oracle-type is 'simple')",
}

var ServerURLFlag = &cli.StringFlag{
	Name:  "server-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the ledger service",
}

var AccountFlag = &cli.StringFlag{
	Name:     "account",
	Required: true,
	Usage:    "acting account. 40-char hex string with no 0x prefix",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "batch-ledger",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by all binaries.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
}
