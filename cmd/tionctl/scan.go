package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/internal/registry"
	"github.com/tion-home/tionctl/pkg/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Tion breezers",
	Long: `Scan for Tion breezers advertising nearby.

Discovered devices are matched by their advertised name (Tion_Breezer_*)
and the model is detected from it. Use --register to add what is found
to the device registry.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanRegister bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show all BLE devices, not just Tion breezers")
	scanCmd.Flags().BoolVar(&scanRegister, "register", false, "Register discovered breezers")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	s := scanner.NewScanner(logger)
	opts := scanner.DefaultScanOptions()
	opts.Duration = scanDuration
	opts.AllTion = scanAll

	fmt.Printf("Scanning for breezers (%s)...\n", scanDuration)
	found, err := s.Scan(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanRegister {
		if err := registerDiscovered(cfg.DBPath, logger, found); err != nil {
			return err
		}
	}

	return displayDiscovered(found, scanFormat)
}

func registerDiscovered(dbPath string, logger *logrus.Logger, found map[string]scanner.Discovered) error {
	reg, err := registry.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer reg.Close()
	for _, d := range found {
		if _, err := reg.Register(d.Address, d.Name, ""); err != nil {
			return err
		}
	}
	return nil
}

func displayDiscovered(found map[string]scanner.Discovered, format string) error {
	if len(found) == 0 {
		fmt.Println("No breezers discovered")
		return nil
	}

	list := make([]scanner.Discovered, 0, len(found))
	for _, d := range found {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].RSSI > list[j].RSSI
	})

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tMODEL\tRSSI\tLAST SEEN")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s ago\n",
			color.CyanString(d.DisplayName()), d.Address, d.Model,
			d.RSSI, time.Since(d.LastSeen).Truncate(time.Second))
	}
	return w.Flush()
}
