package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/lagrangedao/go-computing-market/wallet"
	"github.com/urfave/cli/v2"
)

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "Manage wallets",
	Subcommands: []*cli.Command{
		walletNew,
		walletList,
		walletExport,
		walletImport,
		walletDelete,
		walletSign,
		walletVerify,
	},
}

func addressArg(cctx *cli.Context, i int) (common.Address, error) {
	addr := strings.TrimSpace(cctx.Args().Get(i))
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("failed to parse address %q", addr)
	}
	return common.HexToAddress(addr), nil
}

var walletNew = &cli.Command{
	Name:  "new",
	Usage: "Generate a new key",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}
		addr, err := localWallet.WalletNew(ctx)
		if err != nil {
			return err
		}
		fmt.Println(addr.Hex())
		return nil
	},
}

var walletList = &cli.Command{
	Name:  "list",
	Usage: "List wallet addresses with their market balance",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "offline", Usage: "do not ask the market for balances"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}
		addrs, err := localWallet.WalletList(ctx)
		if err != nil {
			return err
		}

		client := newReadClient(cctx)
		var data [][]string
		for _, addr := range addrs {
			balance := "-"
			if !cctx.Bool("offline") {
				var a struct {
					Tokens string `json:"tokens"`
				}
				if err := client.get(ctx, "/accounts/"+addr.Hex(), &a); err != nil {
					balance = red("unreachable")
				} else {
					balance = a.Tokens
				}
			}
			data = append(data, []string{addr.Hex(), balance})
		}
		NewVisualTable([]string{"ADDRESS", "BALANCE"}, data, cctx.Bool(FlagNoColor)).Generate()
		return nil
	},
}

var walletExport = &cli.Command{
	Name:      "export",
	Usage:     "export keys",
	ArgsUsage: "[address]",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if !cctx.Args().Present() {
			return fmt.Errorf("must specify key to export")
		}
		addr, err := addressArg(cctx, 0)
		if err != nil {
			return err
		}
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}
		ki, err := localWallet.WalletExport(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Println(ki.PrivateKey)
		return nil
	},
}

var walletImport = &cli.Command{
	Name:      "import",
	Usage:     "import keys",
	ArgsUsage: "[<path> (optional, will read from stdin if omitted)]",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}

		var inpdata []byte
		if !cctx.Args().Present() || cctx.Args().First() == "-" {
			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Enter private key: ")
			indata, err := reader.ReadBytes('\n')
			if err != nil {
				return err
			}
			inpdata = indata
		} else {
			fdata, err := os.ReadFile(cctx.Args().First())
			if err != nil {
				return err
			}
			inpdata = fdata
		}

		ki := wallet.KeyInfo{PrivateKey: strings.TrimSpace(string(inpdata))}
		addr, err := localWallet.WalletImport(ctx, &ki)
		if err != nil {
			return err
		}
		fmt.Printf("imported key %s successfully!\n", addr.Hex())
		return nil
	},
}

var walletDelete = &cli.Command{
	Name:      "delete",
	Usage:     "Delete an account from the wallet",
	ArgsUsage: "<address> ",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify address to delete")
		}
		addr, err := addressArg(cctx, 0)
		if err != nil {
			return err
		}
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}
		return localWallet.WalletDelete(ctx, addr)
	},
}

var walletSign = &cli.Command{
	Name:      "sign",
	Usage:     "Sign a message",
	ArgsUsage: "<signing address> <Message>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 2 {
			return fmt.Errorf("must specify signing address and message to sign")
		}
		addr, err := addressArg(cctx, 0)
		if err != nil {
			return err
		}
		msg := cctx.Args().Get(1)
		if strings.TrimSpace(msg) == "" {
			return fmt.Errorf("failed to parse message")
		}
		localWallet, err := setupWallet(cctx)
		if err != nil {
			return err
		}
		sig, err := localWallet.WalletSign(ctx, addr, []byte(msg))
		if err != nil {
			return err
		}
		fmt.Println(hexutil.Encode(sig))
		return nil
	},
}

var walletVerify = &cli.Command{
	Name:      "verify",
	Usage:     "verify the signature of a message",
	ArgsUsage: "<signing address> <signature> <rawMessage>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 3 {
			return fmt.Errorf("incorrect number of arguments, requires 3 parameters")
		}
		addr, err := addressArg(cctx, 0)
		if err != nil {
			return err
		}
		sigBytes, err := hexutil.Decode(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		messageData := cctx.Args().Get(2)
		if strings.TrimSpace(messageData) == "" {
			return fmt.Errorf("failed to get raw message")
		}
		fmt.Println(wallet.Verify(addr, sigBytes, []byte(messageData)))
		return nil
	},
}
