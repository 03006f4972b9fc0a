package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/tion"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <device>",
	Short: "Read breezer state and air quality",
	Long: `Connect to a breezer and print its current state: power, fan speed,
air mode, CO2 level, temperatures, humidity and filter life.

The device argument is a MAC address or a registered device name.
A recent cached reading is used when fresh enough; pass --fresh to
always go over the air.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var (
	statusMaxAge time.Duration
	statusFresh  bool
	statusJSON   bool
)

func init() {
	statusCmd.Flags().DurationVar(&statusMaxAge, "max-age", 0, "Accept cached readings up to this old (default: config cache_ttl)")
	statusCmd.Flags().BoolVar(&statusFresh, "fresh", false, "Always read from the device, ignore cache")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON output")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	id, err := resolveDevice(cfg, logger, args[0])
	if err != nil {
		return err
	}

	dev, err := openBreezer(cfg, logger, id)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancelTimeout()

	maxAge := statusMaxAge
	if maxAge <= 0 {
		maxAge = cfg.CacheTTL
	}
	if statusFresh {
		maxAge = 0
	}

	snap, err := dev.Reading(ctx, maxAge)
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Device     string       `json:"device"`
			Model      tion.Model   `json:"model"`
			CapturedAt time.Time    `json:"captured_at"`
			Reading    tion.Reading `json:"reading"`
		}{id.DisplayName(), id.Model, snap.CapturedAt, snap.Reading})
	}

	printReading(id, snap)
	return nil
}

func printReading(id breezer.Identity, snap breezer.Snapshot) {
	r := snap.Reading
	bold := color.New(color.Bold)

	bold.Printf("%s", id.DisplayName())
	fmt.Printf(" (%s, %s)\n", id.Model, id.Address)

	power := color.GreenString("on")
	if !r.PowerOn {
		power = color.RedString("off")
	}
	fmt.Printf("  Power:    %s\n", power)
	fmt.Printf("  Speed:    %d\n", r.Speed)
	fmt.Printf("  Mode:     %s\n", r.Mode)
	fmt.Printf("  CO2:      %s\n", co2String(r.CO2))
	fmt.Printf("  Air:      in %d°C, out %d°C, humidity %d%%\n", r.InTemp, r.OutTemp, r.Humidity)
	if r.HeaterOn {
		fmt.Printf("  Heater:   on, target %d°C\n", r.HeaterTemp)
	}
	fmt.Printf("  Filter:   %d days left\n", r.FilterDays)
	if names := r.Errors.Names(); len(names) > 0 {
		fmt.Printf("  Errors:   %s\n", color.RedString(strings.Join(names, ", ")))
	}
	fmt.Printf("  Captured: %s ago\n", time.Since(snap.CapturedAt).Truncate(time.Second))
}

// co2String colors the CO2 level by the usual comfort bands.
func co2String(ppm int) string {
	s := fmt.Sprintf("%d ppm", ppm)
	switch {
	case ppm < 800:
		return color.GreenString(s)
	case ppm < 1400:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
