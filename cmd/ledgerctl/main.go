package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/software-update-ledger/api"
	"github.com/ruteri/software-update-ledger/api/clients"
	"github.com/ruteri/software-update-ledger/cmd/flags"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/validation"
)

var flagUID = &cli.StringFlag{
	Name:     "uid",
	Required: true,
	Usage:    "update identifier",
}

var flagAddress = &cli.StringFlag{
	Name:     "address",
	Required: true,
	Usage:    "account address",
}

var flagContentType = &cli.StringFlag{
	Name:  "type",
	Value: interfaces.PayloadType.String(),
	Usage: "content type: 'payload' or 'manifest'",
}

func main() {
	app := &cli.App{
		Name:  "ledgerctl",
		Usage: "Operate the software update ledger as owner, manufacturer or buyer",
		Flags: append([]cli.Flag{
			flags.ServerURLFlag,
			flags.PrivateKeyFlag,
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "generate-key",
				Usage: "generate a new signing key and print it with its address",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"private_key": hexutil.Encode(crypto.FromECDSA(key)),
						"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
					})
				},
			},
			{
				Name:  "register-manufacturer",
				Usage: "register a manufacturer (owner only)",
				Flags: []cli.Flag{flagAddress, &cli.StringFlag{Name: "name", Required: true}},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					addr, err := parseAddress(cCtx.String(flagAddress.Name))
					if err != nil {
						return err
					}
					return client.RegisterManufacturer(cCtx.Context, addr, cCtx.String("name"))
				},
			},
			{
				Name:  "deactivate-manufacturer",
				Usage: "deactivate a manufacturer (owner only)",
				Flags: []cli.Flag{flagAddress},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					addr, err := parseAddress(cCtx.String(flagAddress.Name))
					if err != nil {
						return err
					}
					return client.DeactivateManufacturer(cCtx.Context, addr)
				},
			},
			{
				Name:  "upload-payload",
				Usage: "host an encrypted payload on the server's storage and print its content id",
				Flags: []cli.Flag{&cli.StringFlag{Name: "file", Required: true}, flagContentType},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					contentType, err := interfaces.ParseContentType(cCtx.String(flagContentType.Name))
					if err != nil {
						return err
					}
					data, err := os.ReadFile(cCtx.String("file"))
					if err != nil {
						return err
					}
					id, err := client.UploadPayload(cCtx.Context, data, contentType)
					if err != nil {
						return err
					}
					return printJSON(api.PayloadResponse{ContentID: id.String(), Type: contentType.String()})
				},
			},
			{
				Name:  "register-update",
				Usage: "sign and register an update whose hash commits to the encrypted payload",
				Flags: []cli.Flag{
					flagUID,
					&cli.StringFlag{Name: "payload-file", Usage: "encrypted payload; its hash is anchored in the ledger"},
					&cli.StringFlag{Name: "hash", Usage: "payload hash, when the payload is not available locally"},
					&cli.BoolFlag{Name: "upload", Usage: "also upload --payload-file to the server's storage"},
					&cli.StringFlag{Name: "encrypted-key-file", Required: true, Usage: "update key sealed for buyers"},
					&cli.StringFlag{Name: "price", Value: "0", Usage: "price in the smallest native unit"},
				},
				Action: func(cCtx *cli.Context) error {
					key, err := privateKey(cCtx)
					if err != nil {
						return err
					}
					client := clients.NewLedgerClient(cCtx.String(flags.ServerURLFlag.Name), key)

					var hash interfaces.UpdateHash
					switch {
					case cCtx.String("payload-file") != "":
						data, err := os.ReadFile(cCtx.String("payload-file"))
						if err != nil {
							return err
						}
						id := interfaces.ComputeID(data)
						if cCtx.Bool("upload") {
							if id, err = client.UploadPayload(cCtx.Context, data, interfaces.PayloadType); err != nil {
								return err
							}
						}
						hash = id.UpdateHash()
					case cCtx.String("hash") != "":
						if hash, err = interfaces.NewUpdateHashFromHex(cCtx.String("hash")); err != nil {
							return err
						}
					default:
						return errors.New("one of --payload-file or --hash is required")
					}

					encryptedKey, err := os.ReadFile(cCtx.String("encrypted-key-file"))
					if err != nil {
						return err
					}
					price, ok := new(big.Int).SetString(cCtx.String("price"), 10)
					if !ok {
						return fmt.Errorf("invalid price: %s", cCtx.String("price"))
					}

					reg := &interfaces.UpdateRegistration{
						UID:          cCtx.String(flagUID.Name),
						Hash:         hash,
						EncryptedKey: encryptedKey,
						Price:        price,
					}
					sig, err := validation.SignUpdate(key, reg)
					if err != nil {
						return err
					}

					return client.RegisterUpdate(cCtx.Context, &api.RegisterUpdateRequest{
						UID:          reg.UID,
						Hash:         ethcommon.Hash(reg.Hash),
						EncryptedKey: reg.EncryptedKey,
						Signature:    sig,
						Price:        reg.Price,
					})
				},
			},
			{
				Name:  "deactivate-update",
				Usage: "deactivate an update (registering manufacturer only)",
				Flags: []cli.Flag{flagUID},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					return client.DeactivateUpdate(cCtx.Context, cCtx.String(flagUID.Name))
				},
			},
			{
				Name:  "notify",
				Usage: "publish the release notification of an update",
				Flags: []cli.Flag{
					flagUID,
					&cli.StringFlag{Name: "description", Required: true},
					&cli.StringFlag{Name: "security", Usage: "security fix description"},
					&cli.StringFlag{Name: "bug-fix", Usage: "bug fix description"},
					&cli.StringFlag{Name: "feature", Usage: "new feature description"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					return client.SendUpdateNotification(cCtx.Context, &api.NotificationRequest{
						UID:          cCtx.String(flagUID.Name),
						Description:  cCtx.String("description"),
						Security:     cCtx.IsSet("security"),
						BugFix:       cCtx.IsSet("bug-fix"),
						Feature:      cCtx.IsSet("feature"),
						SecurityDesc: cCtx.String("security"),
						BugFixDesc:   cCtx.String("bug-fix"),
						FeatureDesc:  cCtx.String("feature"),
					})
				},
			},
			{
				Name:  "accept",
				Usage: "accept an update as buyer",
				Flags: []cli.Flag{flagUID},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					return client.AcceptUpdate(cCtx.Context, cCtx.String(flagUID.Name))
				},
			},
			{
				Name:  "pay",
				Usage: "pay for an accepted update and receive its encrypted key",
				Flags: []cli.Flag{
					flagUID,
					&cli.StringFlag{Name: "value", Required: true, Usage: "amount attached, at least the update price"},
					&cli.StringFlag{Name: "key-out", Usage: "write the encrypted key to this file"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					value, ok := new(big.Int).SetString(cCtx.String("value"), 10)
					if !ok {
						return fmt.Errorf("invalid value: %s", cCtx.String("value"))
					}
					delivery, err := client.DeliverKeyAndPayment(cCtx.Context, cCtx.String(flagUID.Name), value)
					if err != nil {
						return err
					}
					if out := cCtx.String("key-out"); out != "" {
						if err := os.WriteFile(out, delivery.EncryptedKey, 0600); err != nil {
							return err
						}
					}
					return printJSON(delivery)
				},
			},
			{
				Name:  "install",
				Usage: "confirm installation of a delivered update on a device",
				Flags: []cli.Flag{flagUID, &cli.StringFlag{Name: "device", Required: true}},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					device, err := parseAddress(cCtx.String("device"))
					if err != nil {
						return err
					}
					return client.ConfirmUpdateInstallation(cCtx.Context, cCtx.String(flagUID.Name), device)
				},
			},
			{
				Name:  "show-update",
				Usage: "print update details and its notification",
				Flags: []cli.Flag{flagUID},
				Action: func(cCtx *cli.Context) error {
					client := readClient(cCtx)
					uid := cCtx.String(flagUID.Name)
					details, err := client.GetUpdateDetails(cCtx.Context, uid)
					if err != nil {
						return err
					}
					out := map[string]any{"update": details}
					notification, err := client.GetNotification(cCtx.Context, uid)
					switch {
					case err == nil:
						out["notification"] = notification
					case !errors.Is(err, interfaces.ErrNotFound):
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:  "list-updates",
				Usage: "print all registered update identifiers in registration order",
				Action: func(cCtx *cli.Context) error {
					client := readClient(cCtx)
					count, err := client.UpdateCount(cCtx.Context)
					if err != nil {
						return err
					}
					uids := make([]string, 0, count)
					for i := uint64(0); i < count; i++ {
						uid, err := client.UpdateIDByIndex(cCtx.Context, i)
						if err != nil {
							return err
						}
						uids = append(uids, uid)
					}
					return printJSON(uids)
				},
			},
			{
				Name:  "events",
				Usage: "print the ledger event log",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "from", Value: 1},
					&cli.IntFlag{Name: "limit", Value: 100},
				},
				Action: func(cCtx *cli.Context) error {
					events, err := readClient(cCtx).Events(cCtx.Context, cCtx.Uint64("from"), cCtx.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(events)
				},
			},
			{
				Name:  "download-payload",
				Usage: "fetch a hosted payload and verify it against its content id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content-id", Required: true},
					&cli.StringFlag{Name: "out", Required: true},
					flagContentType,
				},
				Action: func(cCtx *cli.Context) error {
					id, err := interfaces.NewContentIDFromHex(cCtx.String("content-id"))
					if err != nil {
						return err
					}
					contentType, err := interfaces.ParseContentType(cCtx.String(flagContentType.Name))
					if err != nil {
						return err
					}
					data, err := readClient(cCtx).DownloadPayload(cCtx.Context, id, contentType)
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String("out"), data, 0644)
				},
			},
			{
				Name:  "set-contract",
				Usage: "record a named contract address (owner only)",
				Flags: []cli.Flag{&cli.StringFlag{Name: "name", Required: true}, flagAddress},
				Action: func(cCtx *cli.Context) error {
					client, err := signingClient(cCtx)
					if err != nil {
						return err
					}
					addr, err := parseAddress(cCtx.String(flagAddress.Name))
					if err != nil {
						return err
					}
					return client.SetContractAddress(cCtx.Context, cCtx.String("name"), addr)
				},
			},
			{
				Name:  "get-contract",
				Usage: "look up a named contract address",
				Flags: []cli.Flag{&cli.StringFlag{Name: "name", Required: true}},
				Action: func(cCtx *cli.Context) error {
					addr, err := readClient(cCtx).ContractAddress(cCtx.Context, cCtx.String("name"))
					if err != nil {
						return err
					}
					fmt.Println(addr.Hex())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func privateKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	hexKey := cCtx.String(flags.PrivateKeyFlag.Name)
	if hexKey == "" {
		return nil, fmt.Errorf("--%s is required for this command", flags.PrivateKeyFlag.Name)
	}
	return flags.ParsePrivateKey(hexKey)
}

func signingClient(cCtx *cli.Context) (*clients.LedgerClient, error) {
	key, err := privateKey(cCtx)
	if err != nil {
		return nil, err
	}
	client := clients.NewLedgerClient(cCtx.String(flags.ServerURLFlag.Name), key)
	flags.SetupLogger(cCtx).Debug("Signing requests", "caller", client.Address().Hex())
	return client, nil
}

func readClient(cCtx *cli.Context) *clients.LedgerClient {
	return clients.NewLedgerClient(cCtx.String(flags.ServerURLFlag.Name), nil)
}

func parseAddress(s string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(s) {
		return ethcommon.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return ethcommon.HexToAddress(s), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
