package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"DexLedger/internal/chain"
	"DexLedger/internal/encoding"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

type ordersOutput struct {
	Block  string                  `json:"block"`
	Count  int                     `json:"count"`
	Hex    string                  `json:"hex"`
	Orders []encoding.IndexedOrder `json:"orders"`
}

func newOrdersCmd() *cobra.Command {
	var (
		block    uint64
		pageSize uint16
		tokens   []string
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Read the open order book through the viewer contract and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			viewer, err := encoding.ParseAddress(cfg.ViewerAddress)
			if err != nil {
				return fmt.Errorf("viewer_address: %w", err)
			}
			filter := make([]common.Address, 0, len(tokens))
			for _, t := range tokens {
				addr, err := encoding.ParseAddress(t)
				if err != nil {
					return fmt.Errorf("token filter: %w", err)
				}
				filter = append(filter, addr)
			}

			ctx := cmd.Context()
			client, err := chain.Dial(ctx, cfg.RPCURL)
			if err != nil {
				return err
			}
			defer client.Close()

			var at *big.Int
			if block != 0 {
				at = new(big.Int).SetUint64(block)
			}
			orders, err := chain.ReadAllOrders(ctx, chain.NewViewerReader(client, viewer, filter...), pageSize, at)
			if err != nil {
				return err
			}
			encoded, err := encoding.EncodeIndexedOrdersHex(orders)
			if err != nil {
				return err
			}

			out := ordersOutput{Block: "latest", Count: len(orders), Hex: encoded, Orders: orders}
			if at != nil {
				out.Block = at.String()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Uint64Var(&block, "block", 0, "read the book as of this block (0 reads latest)")
	cmd.Flags().Uint16Var(&pageSize, "page_size", chain.DefaultOrderPageSize, "orders per viewer call")
	cmd.Flags().StringSliceVar(&tokens, "tokens", nil, "only orders between these token addresses")
	return cmd
}
