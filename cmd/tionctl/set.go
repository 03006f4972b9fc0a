package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/internal/registry"
	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/config"
	"github.com/tion-home/tionctl/pkg/tion"
)

// setCmd groups the state-changing subcommands.
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change breezer settings",
}

var setSpeedCmd = &cobra.Command{
	Use:   "speed <device> <level>",
	Short: "Set fan speed (0 stops the fan)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetSpeed,
}

var setModeCmd = &cobra.Command{
	Use:   "mode <device> <outside|recirculation|mixed>",
	Short: "Set air intake mode (S4 only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetMode,
}

var setTargetGroup bool

func init() {
	setSpeedCmd.Flags().BoolVar(&setTargetGroup, "group", false, "Treat <device> as a group id and apply to every member")
	setModeCmd.Flags().BoolVar(&setTargetGroup, "group", false, "Treat <device> as a group id and apply to every member")
	setCmd.AddCommand(setSpeedCmd)
	setCmd.AddCommand(setModeCmd)
}

func runSetSpeed(cmd *cobra.Command, args []string) error {
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid speed %q: must be a number", args[1])
	}

	apply := func(ctx context.Context, dev *breezer.Breezer) error {
		if err := dev.SetSpeed(ctx, level); err != nil {
			return err
		}
		fmt.Printf("%s speed set to %d\n", color.CyanString(dev.Identity().DisplayName()), level)
		return nil
	}
	if setTargetGroup {
		return withGroupDevices(cmd, args[0], apply)
	}
	return withDevice(cmd, args[0], apply)
}

func runSetMode(cmd *cobra.Command, args []string) error {
	mode, err := tion.ParseMode(args[1])
	if err != nil {
		return err
	}

	apply := func(ctx context.Context, dev *breezer.Breezer) error {
		if err := dev.SetMode(ctx, mode); err != nil {
			return err
		}
		fmt.Printf("%s mode set to %s\n", color.CyanString(dev.Identity().DisplayName()), mode)
		return nil
	}
	if setTargetGroup {
		return withGroupDevices(cmd, args[0], apply)
	}
	return withDevice(cmd, args[0], apply)
}

// withDevice handles the setup, resolve, open, signal-context and teardown
// plumbing shared by every command that talks to one breezer.
func withDevice(cmd *cobra.Command, arg string, fn func(ctx context.Context, dev *breezer.Breezer) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	id, err := resolveDevice(cfg, logger, arg)
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

	return fn(ctx, dev)
}

// withGroupDevices fans a command out to every member of a device group,
// one breezer at a time. Individual failures are reported and do not stop
// the remaining members.
func withGroupDevices(cmd *cobra.Command, arg string, fn func(ctx context.Context, dev *breezer.Breezer) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	gid, err := parseGroupID(arg)
	if err != nil {
		return err
	}
	reg, err := registry.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	group, err := reg.GetGroup(gid)
	reg.Close()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	failed := 0
	for _, member := range group.DeviceIDs {
		if err := runGroupMember(ctx, cfg, logger, member, fn); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", member, FormatUserError(err))
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d group members failed", failed, len(group.DeviceIDs))
	}
	return nil
}

func runGroupMember(ctx context.Context, cfg *config.Config, logger *logrus.Logger, member string, fn func(ctx context.Context, dev *breezer.Breezer) error) error {
	id, err := resolveDevice(cfg, logger, member)
	if err != nil {
		return err
	}
	dev, err := openBreezer(cfg, logger, id)
	if err != nil {
		return err
	}
	defer dev.Close()

	opCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	return fn(opCtx, dev)
}
