package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/avm/avm"
	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/storage"
	"github.com/colorfulnotion/avm/types"
)

func newTxCmd() *cobra.Command {
	var (
		codePath string
		inputHex string
		value    uint64
		gas      uint64
	)
	cmd := &cobra.Command{
		Use:   "tx <state-dir> <create|call|transfer|state> [args]",
		Short: "Apply a transaction to a LevelDB state store",
		Long: `tx create <addr> [--code image] [--value balance]
tx call <from> <to> [--input hex] [--value amount] [--gas limit]
tx transfer <from> <to> <amount>
tx state`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewStateStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			op, rest := args[1], args[2:]
			if op == "state" {
				return printState(store)
			}
			tx, err := buildTx(op, rest, codePath, inputHex, value, gas)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := avm.New(cfg, store)
			if err != nil {
				return err
			}
			return printJSON(a.RunTx(context.Background(), tx))
		},
	}
	cmd.Flags().StringVar(&codePath, "code", "", "contract image for create")
	cmd.Flags().StringVar(&inputHex, "input", "", "call input as hex")
	cmd.Flags().Uint64Var(&value, "value", 0, "balance for create, value for call")
	cmd.Flags().Uint64Var(&gas, "gas", 0, "gas limit for call (0: default)")
	return cmd
}

func buildTx(op string, args []string, codePath, inputHex string, value, gas uint64) (types.Transaction, error) {
	want := map[string]int{"create": 1, "call": 2, "transfer": 3}
	n, ok := want[op]
	if !ok {
		return types.Transaction{}, fmt.Errorf("unknown transaction %q", op)
	}
	if len(args) != n {
		return types.Transaction{}, fmt.Errorf("%s takes %d arguments, got %d", op, n, len(args))
	}
	var addrs []common.Address
	for _, s := range args[:min(n, 2)] {
		if !common.IsHexAddress(s) {
			return types.Transaction{}, fmt.Errorf("bad address %q", s)
		}
		addrs = append(addrs, common.HexToAddress(s))
	}

	switch op {
	case "create":
		tx := types.Transaction{Type: types.TxCreateAccount, To: addrs[0], Value: value}
		if codePath != "" {
			code, err := readImage(codePath)
			if err != nil {
				return types.Transaction{}, err
			}
			tx.Data = code
		}
		return tx, nil
	case "call":
		input, err := parseHex(inputHex)
		if err != nil {
			return types.Transaction{}, err
		}
		return types.Transaction{Type: types.TxProgramCall, From: addrs[0], To: addrs[1], Data: input, Value: value, Gas: gas}, nil
	default:
		amount, err := strconv.ParseUint(args[2], 0, 64)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("bad amount %q: %w", args[2], err)
		}
		return types.Transaction{Type: types.TxTransfer, From: addrs[0], To: addrs[1], Value: amount}, nil
	}
}

type stateDump struct {
	Account *types.Account    `json:"account"`
	Storage map[string]string `json:"storage,omitempty"`
}

func printState(store *storage.StateStore) error {
	addrs, err := store.Accounts()
	if err != nil {
		return err
	}
	out := make([]stateDump, 0, len(addrs))
	for _, addr := range addrs {
		acct, _, err := store.GetAccount(addr)
		if err != nil {
			return err
		}
		acct.Code = nil
		entries, err := store.StorageEntries(addr)
		if err != nil {
			return err
		}
		d := stateDump{Account: acct}
		if len(entries) > 0 {
			d.Storage = make(map[string]string, len(entries))
			for _, kv := range entries {
				d.Storage[fmt.Sprintf("0x%x", kv[0])] = fmt.Sprintf("0x%x", kv[1])
			}
		}
		out = append(out, d)
	}
	return printJSON(out)
}
