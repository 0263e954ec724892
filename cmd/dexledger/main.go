package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"DexLedger/internal/core"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DEX"

// Config holds all application configuration.
// Values come from flags, then DEX_* environment variables, then defaults.
type Config struct {
	// Chain
	RPCURL          string
	ExchangeAddress string
	ViewerAddress   string
	DeploymentBlock uint64

	// Engine
	BlockPageSize      uint64
	BlockConfirmations uint64
	PollInterval       time.Duration
	Strict             bool
	EndBlock           uint64

	// Order books
	Fee string

	// gRPC/HTTP/Metrics
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	// Sinks, disabled when empty
	PostgresDSN string
	NATSURL     string

	// Channels
	SinkChanSize int

	// Archive worker
	ArchiveBatchSize    int
	ArchiveFlushTimeout time.Duration

	// Migrations
	MigrationsDir string

	LogLevel string
}

func loadConfig() Config {
	return Config{
		RPCURL:              viper.GetString("rpc_url"),
		ExchangeAddress:     viper.GetString("exchange_address"),
		ViewerAddress:       viper.GetString("viewer_address"),
		DeploymentBlock:     viper.GetUint64("deployment_block"),
		BlockPageSize:       viper.GetUint64("block_page_size"),
		BlockConfirmations:  viper.GetUint64("block_confirmations"),
		PollInterval:        viper.GetDuration("poll_interval"),
		Strict:              viper.GetBool("strict"),
		EndBlock:            viper.GetUint64("end_block"),
		Fee:                 viper.GetString("fee"),
		GRPCAddr:            viper.GetString("grpc_addr"),
		HTTPAddr:            viper.GetString("http_addr"),
		MetricsAddr:         viper.GetString("metrics_addr"),
		PostgresDSN:         viper.GetString("postgres_dsn"),
		NATSURL:             viper.GetString("nats_url"),
		SinkChanSize:        viper.GetInt("sink_chan_size"),
		ArchiveBatchSize:    viper.GetInt("archive_batch_size"),
		ArchiveFlushTimeout: viper.GetDuration("archive_flush_timeout"),
		MigrationsDir:       viper.GetString("migrations_dir"),
		LogLevel:            viper.GetString("log_level"),
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dexledger",
		Short:         "Read layer for a batch-auction exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
	}

	defaults := core.DefaultOptions()
	f := root.PersistentFlags()
	f.String("rpc_url", "http://localhost:8545", "Ethereum JSON-RPC endpoint")
	f.String("exchange_address", "", "batch exchange contract address")
	f.String("viewer_address", "", "order book viewer contract address")
	f.String("postgres_dsn", "", "Postgres DSN for projections and the event archive (empty disables)")
	f.String("migrations_dir", "migrations", "directory holding *.up.sql / *.down.sql")
	f.String("log_level", "info", "debug, info, warn or error")
	f.Uint64("deployment_block", 0, "block the exchange was deployed in")
	f.Uint64("block_page_size", defaults.BlockPageSize, "blocks fetched per log query")
	f.Uint64("block_confirmations", defaults.BlockConfirmations, "depth after which events are applied")
	f.Duration("poll_interval", defaults.PollInterval, "delay between live updates")
	f.Bool("strict", defaults.Strict, "reject out-of-order events and skipped order slots")
	f.Uint64("end_block", 0, "replay up to this block and stop updating (0 follows the chain)")
	f.String("fee", "1/1000", "exchange fee used for order book aggregation")
	f.String("grpc_addr", ":9090", "gRPC health listen address")
	f.String("http_addr", ":8080", "HTTP API listen address")
	f.String("metrics_addr", ":9091", "Prometheus listen address")
	f.String("nats_url", "", "NATS URL for the event publisher (empty disables)")
	f.Int("sink_chan_size", 256, "buffered commits per sink")
	f.Int("archive_batch_size", 500, "events per archive insert")
	f.Duration("archive_flush_timeout", time.Second, "max delay before an archive batch is written")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newOrdersCmd())
	return root
}

func initEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func main() {
	cobra.OnInitialize(initEnv)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dexledger: %v\n", err)
		os.Exit(1)
	}
}
