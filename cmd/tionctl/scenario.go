package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/internal/scenario"
	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/config"
	"github.com/tion-home/tionctl/pkg/tion"
)

// scenarioCmd groups automation subcommands.
var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Manage and run automation scenarios",
	Long: `Automation scenarios change breezer settings on a schedule or when a
sensor reading crosses a threshold.

Examples:
  tionctl scenario add --name night --device bedroom --at "0 23 * * *" --speed 1
  tionctl scenario add --name stuffy --device office --when "co2>900" --speed 4
  tionctl scenario run`,
}

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios",
	Args:  cobra.NoArgs,
	RunE:  runScenarioList,
}

var scenarioAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scenario",
	Args:  cobra.NoArgs,
	RunE:  runScenarioAdd,
}

var scenarioEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleScenario(cmd, args[0], true) },
}

var scenarioDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleScenario(cmd, args[0], false) },
}

var scenarioDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenarioDelete,
}

var scenarioRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scenarios until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runScenarioRun,
}

var (
	scenarioName   string
	scenarioDevice string
	scenarioAt     string
	scenarioWhen   string
	scenarioSpeed  int
	scenarioMode   string
)

func init() {
	f := scenarioAddCmd.Flags()
	f.StringVar(&scenarioName, "name", "", "Scenario name")
	f.StringVar(&scenarioDevice, "device", "", "Target device (address or registered name)")
	f.StringVar(&scenarioAt, "at", "", "Cron schedule (time trigger)")
	f.StringVar(&scenarioWhen, "when", "", "Sensor condition, e.g. 'co2>900' or 'in_temp<18'")
	f.IntVar(&scenarioSpeed, "speed", -1, "Fan speed to set")
	f.StringVar(&scenarioMode, "mode", "", "Air mode to set (outside, recirculation, mixed)")

	scenarioCmd.AddCommand(scenarioListCmd)
	scenarioCmd.AddCommand(scenarioAddCmd)
	scenarioCmd.AddCommand(scenarioEnableCmd)
	scenarioCmd.AddCommand(scenarioDisableCmd)
	scenarioCmd.AddCommand(scenarioDeleteCmd)
	scenarioCmd.AddCommand(scenarioRunCmd)
}

// withStore opens the scenario store for a subcommand run.
func withStore(cmd *cobra.Command, fn func(cfg *config.Config, logger *logrus.Logger, store *scenario.Store) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store, err := scenario.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, logger, store)
}

func runScenarioList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(_ *config.Config, _ *logrus.Logger, store *scenario.Store) error {
		scenarios, err := store.List(true)
		if err != nil {
			return err
		}
		if len(scenarios) == 0 {
			fmt.Println("No scenarios")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEVICE\tTRIGGER\tACTION\tENABLED\tLAST RUN")
		for _, sc := range scenarios {
			enabled := color.GreenString("yes")
			if !sc.Enabled {
				enabled = "no"
			}
			lastRun := "never"
			if !sc.LastRun.IsZero() {
				lastRun = time.Since(sc.LastRun).Truncate(time.Second).String() + " ago"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sc.ID, color.CyanString(sc.Name), sc.DeviceID,
				describeTrigger(sc), describeAction(sc.Action), enabled, lastRun)
		}
		return w.Flush()
	})
}

func describeTrigger(sc scenario.Scenario) string {
	if sc.Trigger == scenario.TriggerTime {
		return fmt.Sprintf("at %q", sc.CronSpec)
	}
	op := "<"
	if sc.Cond.Above {
		op = ">"
	}
	return fmt.Sprintf("when %s%s%d", sc.Cond.Metric, op, sc.Cond.Threshold)
}

func describeAction(a scenario.Action) string {
	var parts []string
	if a.SetSpeed != nil {
		parts = append(parts, fmt.Sprintf("speed=%d", *a.SetSpeed))
	}
	if a.SetMode != nil {
		parts = append(parts, fmt.Sprintf("mode=%s", *a.SetMode))
	}
	return strings.Join(parts, ", ")
}

func runScenarioAdd(cmd *cobra.Command, args []string) error {
	if scenarioName == "" || scenarioDevice == "" {
		return fmt.Errorf("--name and --device are required")
	}
	if (scenarioAt == "") == (scenarioWhen == "") {
		return fmt.Errorf("exactly one of --at and --when is required")
	}

	sc := scenario.Scenario{
		Name:     scenarioName,
		DeviceID: scenarioDevice,
	}
	if scenarioAt != "" {
		sc.Trigger = scenario.TriggerTime
		sc.CronSpec = scenarioAt
	} else {
		cond, err := parseCondition(scenarioWhen)
		if err != nil {
			return err
		}
		sc.Trigger = scenario.TriggerSensor
		sc.Cond = cond
	}
	if scenarioSpeed >= 0 {
		speed := scenarioSpeed
		sc.Action.SetSpeed = &speed
	}
	if scenarioMode != "" {
		mode, err := tion.ParseMode(scenarioMode)
		if err != nil {
			return err
		}
		sc.Action.SetMode = &mode
	}

	return withStore(cmd, func(cfg *config.Config, logger *logrus.Logger, store *scenario.Store) error {
		// Pin the device id to an address so renames don't break scenarios.
		id, err := resolveDevice(cfg, logger, scenarioDevice)
		if err != nil {
			return err
		}
		sc.DeviceID = id.Address

		stored, err := store.Add(sc)
		if err != nil {
			return err
		}
		fmt.Printf("Added scenario %s (%s)\n", color.CyanString(stored.Name), stored.ID)
		return nil
	})
}

// parseCondition parses "metric>threshold" or "metric<threshold".
func parseCondition(s string) (scenario.Condition, error) {
	var op string
	switch {
	case strings.Contains(s, ">"):
		op = ">"
	case strings.Contains(s, "<"):
		op = "<"
	default:
		return scenario.Condition{}, fmt.Errorf("invalid condition %q: expected metric>value or metric<value", s)
	}
	parts := strings.SplitN(s, op, 2)
	threshold, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return scenario.Condition{}, fmt.Errorf("invalid threshold in %q: %w", s, err)
	}
	return scenario.Condition{
		Metric:    scenario.Metric(strings.TrimSpace(parts[0])),
		Above:     op == ">",
		Threshold: threshold,
	}, nil
}

func toggleScenario(cmd *cobra.Command, id string, enabled bool) error {
	return withStore(cmd, func(_ *config.Config, _ *logrus.Logger, store *scenario.Store) error {
		if err := store.SetEnabled(id, enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("Scenario %s %s\n", id, state)
		return nil
	})
}

func runScenarioDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(_ *config.Config, _ *logrus.Logger, store *scenario.Store) error {
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted scenario %s\n", args[0])
		return nil
	})
}

func runScenarioRun(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(cfg *config.Config, logger *logrus.Logger, store *scenario.Store) error {
		pool := newDevicePool(cfg, logger)
		defer pool.Close()

		runner := scenario.NewRunner(store, pool.Resolve, scenario.DefaultRunnerOptions(), logger)
		if err := runner.Start(); err != nil {
			return err
		}
		fmt.Println("Running scenarios, Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nStopping...")
		runner.Stop()
		return nil
	})
}

// devicePool lazily opens one facade per device address and keeps it for the
// lifetime of the scenario runner, so repeated triggers reuse connections.
type devicePool struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu      sync.Mutex
	devices map[string]*breezer.Breezer
}

func newDevicePool(cfg *config.Config, logger *logrus.Logger) *devicePool {
	return &devicePool{
		cfg:     cfg,
		logger:  logger,
		devices: make(map[string]*breezer.Breezer),
	}
}

func (p *devicePool) Resolve(deviceID string) (scenario.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dev, ok := p.devices[deviceID]; ok {
		return dev, nil
	}
	id, err := resolveDevice(p.cfg, p.logger, deviceID)
	if err != nil {
		return nil, err
	}
	dev, err := openBreezer(p.cfg, p.logger, id)
	if err != nil {
		return nil, err
	}
	p.devices[deviceID] = dev
	return dev, nil
}

func (p *devicePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dev := range p.devices {
		dev.Close()
	}
}
