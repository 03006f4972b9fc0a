package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/internal/registry"
	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/config"
	"github.com/tion-home/tionctl/pkg/tion"
	"github.com/tion-home/tionctl/pkg/transport"
)

// loadConfig reads the config file from --config, falling back to defaults
// when no file is given or the default path does not exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	const defaultPath = "tionctl.yaml"
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

// setup loads config and builds the logger in one go; nearly every command
// starts this way.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// resolveDevice turns a user-supplied device argument into an identity.
// Accepts a MAC address, a registered device name, or a name from the config
// file. MAC addresses work even for unregistered devices.
func resolveDevice(cfg *config.Config, logger *logrus.Logger, arg string) (breezer.Identity, error) {
	// Config file devices first: they may pin a model for an address.
	for _, d := range cfg.Devices {
		if strings.EqualFold(d.Address, arg) || strings.EqualFold(d.Name, arg) {
			model, err := tion.ParseModel(d.Model)
			if err != nil {
				return breezer.Identity{}, err
			}
			return breezer.Identity{Address: d.Address, Name: d.Name, Model: model}, nil
		}
	}

	// Then the registry, if present.
	if reg, err := registry.Open(cfg.DBPath, logger); err == nil {
		defer reg.Close()
		if d, err := reg.Get(arg); err == nil {
			return breezer.Identity{Address: d.Address, Name: d.Name, Model: d.Model}, nil
		}
		if devices, err := reg.List(true); err == nil {
			for _, d := range devices {
				if strings.EqualFold(d.Name, arg) {
					return breezer.Identity{Address: d.Address, Name: d.Name, Model: d.Model}, nil
				}
			}
		}
	}

	// Bare MAC address: assume S3, the most common model.
	if looksLikeAddress(arg) {
		return breezer.Identity{Address: arg, Model: tion.ModelS3}, nil
	}

	return breezer.Identity{}, fmt.Errorf("unknown device %q: not a MAC address and not registered (run 'tionctl scan' first)", arg)
}

// looksLikeAddress accepts colon-separated MAC addresses and the UUID form
// darwin reports.
func looksLikeAddress(s string) bool {
	return strings.Count(s, ":") == 5 || strings.Count(s, "-") == 4
}

// openBreezer builds a facade over the real BLE transport.
func openBreezer(cfg *config.Config, logger *logrus.Logger, id breezer.Identity) (*breezer.Breezer, error) {
	codec, err := tion.NewCodec(id.Model)
	if err != nil {
		return nil, err
	}
	tr := transport.NewBLETransport(transport.DefaultBLEOptions(codec.ServiceUUID()), logger)
	return breezer.New(id, breezer.Options{
		Transport: tr,
		Policy:    cfg.RetryPolicy(),
		CacheTTL:  cfg.CacheTTL,
		Logger:    logger,
	})
}
