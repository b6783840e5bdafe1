// relayd is the in-process relay operator: it hosts a source-side and a
// destination-side engine, tails the source journal for call intents,
// submits executions on the destination, and drives automatic fallback on
// observed failures.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/anycall-protocol/go-anycall/engine"
	"github.com/anycall-protocol/go-anycall/executor"
	"github.com/anycall-protocol/go-anycall/journal"
	"github.com/anycall-protocol/go-anycall/ledger"
	"github.com/anycall-protocol/go-anycall/oracle"
	"github.com/anycall-protocol/go-anycall/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Root directory for chain state and journals",
		Value: "relayd-data",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (0=crit .. 5=trace)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:   "relayd",
		Usage:  "cross-network message relay daemon",
		Flags:  []cli.Flag{configFlag, dataDirFlag, verbosityFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)))

	cfg := defaultRelaydConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		if err := cfg.load(path); err != nil {
			return err
		}
	}

	root := ctx.String(dataDirFlag.Name)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return err
	}
	// One daemon per datadir.
	lock := flock.New(filepath.Join(root, "LOCK"))
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("datadir %s is in use by another relayd", root)
	}
	defer lock.Unlock()

	admin := cfg.addr(cfg.Admin)
	relayer := cfg.addr(cfg.Relayer)
	feeSink := cfg.addr(cfg.FeeSink)

	bank := ledger.NewMemBank()
	price, err := oracle.NewFixedOracle(uint256.NewInt(cfg.CreditPrice), cfg.addr(cfg.Updater))
	if err != nil {
		return err
	}

	src, err := buildEngine(root, cfg.Source, cfg, bank, price, admin, relayer, feeSink)
	if err != nil {
		return err
	}
	defer src.close()
	dst, err := buildEngine(root, cfg.Dest, cfg, bank, price, admin, relayer, feeSink)
	if err != nil {
		return err
	}
	defer dst.close()

	loop, err := newRelayLoop(src, dst, relayer, cfg.PollInterval)
	if err != nil {
		return err
	}
	go loop.run()
	defer loop.stop()

	log.Info("relayd started", "source", cfg.Source.ChainID, "dest", cfg.Dest.ChainID, "datadir", root)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("relayd shutting down")
	return nil
}

// node bundles one engine with its owned storage.
type node struct {
	engine  *engine.Engine
	store   *store.StateStore
	journal *journal.Journal
}

func (n *node) close() {
	n.journal.Close()
	n.store.Close()
}

func buildEngine(root string, cc chainConfig, cfg *relaydConfig, bank *ledger.MemBank, price oracle.Price, admin, relayer, feeSink common.Address) (*node, error) {
	dir := filepath.Join(root, cc.DataDir)
	st, err := store.Open(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}
	jrn, err := journal.Open(filepath.Join(dir, "journal"))
	if err != nil {
		st.Close()
		return nil, err
	}

	led := ledger.New(price, bank, feeSink, cfg.engineConfig(), jrn)
	router := executor.NewRouter()
	if cc.EchoReceiver != "" {
		echo := &executor.EchoHandler{CostPerCall: 10_000}
		router.RegisterExecute(common.HexToAddress(cc.EchoReceiver), echo)
		router.RegisterFallback(common.HexToAddress(cc.EchoReceiver), echo)
	}

	eng, err := engine.New(cc.ChainID, cfg.engineConfig(), admin, relayer, led, st, jrn, router)
	if err != nil {
		jrn.Close()
		st.Close()
		return nil, err
	}
	return &node{engine: eng, store: st, journal: jrn}, nil
}
