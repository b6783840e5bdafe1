package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/naoina/toml"

	"github.com/anycall-protocol/go-anycall/params"
)

// chainConfig describes one side of the relay pairing.
type chainConfig struct {
	ChainID uint64
	DataDir string
	// EchoReceiver optionally registers the built-in echo handler at this
	// address, so a smoke run has something to execute against.
	EchoReceiver string
}

// relaydConfig is the TOML file layout.
type relaydConfig struct {
	Source chainConfig
	Dest   chainConfig

	Admin    string
	Relayer  string
	FeeSink  string
	Updater  string

	GasPriceWei   uint64
	PremiumWei    uint64
	CreditPrice   uint64 // native wei per credit unit
	ExpireHours   uint64
	RotationHours uint64

	PollInterval time.Duration
}

func defaultRelaydConfig() *relaydConfig {
	return &relaydConfig{
		Source:        chainConfig{ChainID: 1, DataDir: "source"},
		Dest:          chainConfig{ChainID: 2, DataDir: "dest"},
		GasPriceWei:   1,
		CreditPrice:   1,
		ExpireHours:   7 * 24,
		RotationHours: 48,
		PollInterval:  time.Second,
	}
}

// load reads a TOML file over the defaults.
func (c *relaydConfig) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func (c *relaydConfig) engineConfig() *params.Config {
	cfg := params.DefaultConfig()
	cfg.GasPrice = uint256.NewInt(c.GasPriceWei)
	cfg.Premium = uint256.NewInt(c.PremiumWei)
	cfg.ExpireWindow = time.Duration(c.ExpireHours) * time.Hour
	cfg.RelayerDelay = time.Duration(c.RotationHours) * time.Hour
	return cfg
}

func (c *relaydConfig) addr(s string) common.Address {
	return common.HexToAddress(s)
}
