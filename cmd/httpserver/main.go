package main

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/software-update-ledger/addressregistry"
	"github.com/ruteri/software-update-ledger/cmd/flags"
	"github.com/ruteri/software-update-ledger/common"
	"github.com/ruteri/software-update-ledger/escrow"
	"github.com/ruteri/software-update-ledger/httpserver"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/ledger"
	"github.com/ruteri/software-update-ledger/metrics"
	"github.com/ruteri/software-update-ledger/statestore"
	"github.com/ruteri/software-update-ledger/storage"
	"github.com/ruteri/software-update-ledger/validation"
)

var flagList []cli.Flag = append([]cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for API",
		EnvVars: []string{"LEDGER_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:     "owner",
		Required: true,
		Usage:    "address of the ledger owner, who registers manufacturers and contract names",
		EnvVars:  []string{"LEDGER_OWNER"},
	},
	&cli.StringFlag{
		Name:    "store-dir",
		Value:   "",
		Usage:   "pebble directory for ledger state; state is kept in memory when empty",
		EnvVars: []string{"LEDGER_STORE_DIR"},
	},
	&cli.StringFlag{
		Name:  "escrow",
		Value: "bank",
		Usage: "value transfer backend: 'bank' (in-process balances) or 'eth' (native transfers over --rpc-addr)",
	},
	&cli.StringSliceFlag{
		Name:  "bank-balance",
		Usage: "initial bank balance as <address>=<amount>, may be repeated (escrow 'bank')",
	},
	&cli.StringFlag{
		Name:  "escrow-keys-file",
		Value: "",
		Usage: "file with one hex private key per line for custodial payer accounts (escrow 'eth')",
	},
	&cli.DurationFlag{
		Name:  "mine-timeout",
		Value: escrow.DefaultMineTimeout,
		Usage: "how long a submitted payment is awaited before the delivery is kept as pending (escrow 'eth')",
	},
	flags.RpcAddrFlag,
	&cli.StringFlag{
		Name:  "validator",
		Value: "signature",
		Usage: "update validation: 'signature' (manufacturer signs the update digest) or 'none'",
	},
	&cli.StringSliceFlag{
		Name:    "storage",
		Usage:   "payload storage location URI (file://, s3://, ipfs://, vault://), may be repeated",
		EnvVars: []string{"LEDGER_STORAGE"},
	},
	flags.MaxPayloadSizeFlag,
	flags.LogServiceFlagFn("update-ledger"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "ledger-server",
		Usage: "Serve the software update ledger API",
		Flags: flagList,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

			ownerHex := cCtx.String("owner")
			if !ethcommon.IsHexAddress(ownerHex) {
				return fmt.Errorf("invalid owner address: %q", ownerHex)
			}
			owner := ethcommon.HexToAddress(ownerHex)

			// Ledger state store
			var store interfaces.LedgerStore
			if dir := cCtx.String("store-dir"); dir != "" {
				logger.Info("Opening pebble state store", "dir", dir)
				pebbleStore, err := statestore.OpenPebbleStore(dir, logger)
				if err != nil {
					logger.Error("Failed to open state store", "err", err)
					return err
				}
				defer pebbleStore.Close()
				store = pebbleStore
			} else {
				logger.Warn("No store directory configured, ledger state will not survive restarts")
				store = statestore.NewMemoryStore()
			}

			transfer, err := setupEscrow(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up escrow", "err", err)
				return err
			}

			var validator interfaces.PayloadValidator
			switch v := cCtx.String("validator"); v {
			case "signature":
				validator = validation.EthSignatureValidator{}
			case "none":
				validator = validation.AcceptAll{}
			default:
				return fmt.Errorf("invalid validator: %s", v)
			}

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			l, err := ledger.New(cCtx.Context, &ledger.Config{
				Owner:     owner,
				Store:     store,
				Transfer:  transfer,
				Validator: validator,
				Clock:     ledger.SystemClock{},
				Sinks:     []interfaces.EventSink{metricsSrv.Ledger},
				Log:       logger,
			})
			if err != nil {
				logger.Error("Failed to open ledger", "err", err)
				return err
			}
			logger.Info("Ledger ready", "owner", l.Owner().Hex(), "updates", l.UpdateCount())

			// Payload hosting is optional
			var payloads interfaces.StorageBackend
			if uris := cCtx.StringSlice("storage"); len(uris) > 0 {
				locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
				for _, uri := range uris {
					locations = append(locations, interfaces.StorageBackendLocation(uri))
				}
				multi, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
				if err != nil {
					logger.Error("Failed to configure payload storage", "err", err)
					return err
				}
				payloads = multi
			}

			handler := httpserver.NewHandler(l, addressregistry.New(owner), payloads, cfg.MaxPayloadSize, logger)
			server, err := httpserver.New(cfg, handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
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

func setupEscrow(cCtx *cli.Context, logger *slog.Logger) (interfaces.ValueTransfer, error) {
	switch kind := cCtx.String("escrow"); kind {
	case "bank":
		bank := escrow.NewBank()
		for _, entry := range cCtx.StringSlice("bank-balance") {
			addr, amount, err := parseBalance(entry)
			if err != nil {
				return nil, err
			}
			bank.Credit(addr, amount)
		}
		logger.Info("Using in-process escrow bank", "accounts", len(cCtx.StringSlice("bank-balance")))
		return bank, nil

	case "eth":
		rpcAddress := cCtx.String(flags.RpcAddrFlag.Name)
		logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
		ethClient, err := ethclient.Dial(rpcAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to dial RPC: %w", err)
		}

		transferer := escrow.NewEthTransferer(ethClient, logger)
		transferer.MineTimeout = cCtx.Duration("mine-timeout")
		keysFile := cCtx.String("escrow-keys-file")
		if keysFile == "" {
			return nil, errors.New("escrow-keys-file is required for eth escrow")
		}
		if err := loadEscrowKeys(keysFile, transferer, logger); err != nil {
			return nil, err
		}
		return transferer, nil

	default:
		return nil, fmt.Errorf("invalid escrow: %s", kind)
	}
}

func parseBalance(entry string) (interfaces.Principal, *big.Int, error) {
	addrHex, amountStr, ok := strings.Cut(entry, "=")
	if !ok || !ethcommon.IsHexAddress(addrHex) {
		return interfaces.Principal{}, nil, fmt.Errorf("invalid bank balance %q, expected <address>=<amount>", entry)
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() < 0 {
		return interfaces.Principal{}, nil, fmt.Errorf("invalid amount in bank balance %q", entry)
	}
	return ethcommon.HexToAddress(addrHex), amount, nil
}

func loadEscrowKeys(path string, transferer *escrow.EthTransferer, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open escrow keys file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, err := flags.ParsePrivateKey(line)
		if err != nil {
			return err
		}
		logger.Info("Loaded custodial escrow account", "address", transferer.AddAccount(key).Hex())
	}
	return scanner.Err()
}
