package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	root := &cobra.Command{
		Use:          "poller",
		Short:        "Reconcile payment gateway events into orders and payments",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run reconciliation passes on a fixed interval",
		RunE:  runPoller,
	}
	addPollerFlags(runCmd.Flags())
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	root.AddCommand(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation pass and exit",
		RunE:  runOnce,
	}
	addPollerFlags(onceCmd.Flags())
	root.AddCommand(onceCmd)

	cursorCmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move the persisted cursor",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the last reconciled block",
		RunE:  runCursorShow,
	}
	addCursorFlags(showCmd.Flags())
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Overwrite the last reconciled block",
		RunE:  runCursorSet,
	}
	addCursorFlags(setCmd.Flags())
	setCmd.Flags().Uint64("block", 0, "block height to store as last reconciled")
	_ = setCmd.MarkFlagRequired("block")
	cursorCmd.AddCommand(showCmd, setCmd)
	root.AddCommand(cursorCmd)

	root.AddCommand(&cobra.Command{
		Use:   "selectors",
		Short: "Print the event selectors the decoder recognises",
		RunE:  runSelectors,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPollerFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "Starknet JSON-RPC URL")
	flags.String("contract-address", "", "payment gateway contract address")
	flags.Duration("poll-interval", 10*time.Second, "interval between passes")
	flags.Int("chunk-size", 10, "events per getEvents page")
	flags.Uint64("start-block", 0, "first block to reconcile when no cursor is stored")
	flags.Uint64("max-block-range", 0, "blocks fetched per batch, 0 means the whole range")
	flags.Uint64("confirmations", 0, "blocks to stay behind the chain tip")
	flags.Int("max-retries", 3, "retries per RPC call")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Duration("rpc-timeout", 30*time.Second, "timeout per RPC call")
	flags.Float64("rpc-rate-limit", 0, "max getEvents calls per second, 0 means unlimited")
	flags.String("redis-url", "", "optional Redis URL for the cross-process pass lock")
	flags.Duration("lock-ttl", time.Minute, "pass lock lease")
	flags.String("dead-letter", "", "optional JSONL file for dropped and failed events")
	flags.Int("pending-completion-passes", 0, "passes to hold a completion whose payment is missing, 0 drops it")
	flags.Bool("init-schema", false, "create tables if they do not exist")
	addCursorFlags(flags)
}

func addCursorFlags(flags *pflag.FlagSet) {
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("cursor-name", "payment-gateway", "cursor row name in indexer_state")
	flags.String("cursor-file", "", "keep the cursor in this JSON file instead of Postgres")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}
