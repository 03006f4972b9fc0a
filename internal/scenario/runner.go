package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tion-home/tionctl/pkg/breezer"
	"github.com/tion-home/tionctl/pkg/tion"
)

// Device is the slice of the breezer facade the runner needs.
type Device interface {
	Reading(ctx context.Context, maxAge time.Duration) (breezer.Snapshot, error)
	SetSpeed(ctx context.Context, level int) error
	SetMode(ctx context.Context, mode tion.Mode) error
	Capabilities() tion.Capabilities
}

// Resolver maps a registered device id to a live facade.
type Resolver func(deviceID string) (Device, error)

// RunnerOptions tunes the runner loops.
type RunnerOptions struct {
	// SensorInterval is how often sensor rules are evaluated.
	SensorInterval time.Duration
	// SensorMaxAge bounds how stale a cached reading may be before the
	// evaluation triggers a refresh over the air.
	SensorMaxAge time.Duration
	// Cooldown suppresses refiring of a sensor rule after it ran.
	Cooldown time.Duration
}

// DefaultRunnerOptions returns the runner defaults.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		SensorInterval: time.Minute,
		SensorMaxAge:   2 * time.Minute,
		Cooldown:       10 * time.Minute,
	}
}

// Runner drives stored scenarios: time triggers through a cron scheduler,
// sensor triggers through a periodic evaluation loop.
type Runner struct {
	store   *Store
	resolve Resolver
	opts    RunnerOptions
	log     *logrus.Entry

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a runner over the given store.
func NewRunner(store *Store, resolve Resolver, opts RunnerOptions, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.SensorInterval <= 0 {
		opts.SensorInterval = DefaultRunnerOptions().SensorInterval
	}
	if opts.SensorMaxAge <= 0 {
		opts.SensorMaxAge = DefaultRunnerOptions().SensorMaxAge
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:   store,
		resolve: resolve,
		opts:    opts,
		log:     logger.WithField("component", "scenario"),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start schedules all enabled scenarios and begins the sensor loop.
func (r *Runner) Start() error {
	scenarios, err := r.store.List(false)
	if err != nil {
		return err
	}
	for _, sc := range scenarios {
		if sc.Trigger == TriggerTime {
			if err := r.schedule(sc); err != nil {
				r.log.WithError(err).WithField("scenario", sc.Name).Warn("Skipping scenario with bad schedule")
			}
		}
	}
	r.cron.Start()

	r.wg.Add(1)
	go r.sensorLoop()
	return nil
}

// Stop halts the scheduler and the sensor loop, waiting for in-flight runs.
func (r *Runner) Stop() {
	r.cancel()
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.wg.Wait()
}

// Reload re-reads the store, picking up added, removed and toggled scenarios.
func (r *Runner) Reload() error {
	scenarios, err := r.store.List(false)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]Scenario)
	for _, sc := range scenarios {
		if sc.Trigger == TriggerTime {
			want[sc.ID] = sc
		}
	}
	for id, entry := range r.entries {
		if _, ok := want[id]; !ok {
			r.cron.Remove(entry)
			delete(r.entries, id)
		}
	}
	for id, sc := range want {
		if _, ok := r.entries[id]; !ok {
			if err := r.scheduleLocked(sc); err != nil {
				r.log.WithError(err).WithField("scenario", sc.Name).Warn("Skipping scenario with bad schedule")
			}
		}
	}
	return nil
}

func (r *Runner) schedule(sc Scenario) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduleLocked(sc)
}

func (r *Runner) scheduleLocked(sc Scenario) error {
	id, err := r.cron.AddFunc(sc.CronSpec, func() {
		r.execute(sc)
	})
	if err != nil {
		return err
	}
	r.entries[sc.ID] = id
	return nil
}

func (r *Runner) sensorLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.SensorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evaluateSensors()
		}
	}
}

func (r *Runner) evaluateSensors() {
	scenarios, err := r.store.List(false)
	if err != nil {
		r.log.WithError(err).Warn("Failed to list scenarios")
		return
	}
	for _, sc := range scenarios {
		if sc.Trigger != TriggerSensor {
			continue
		}
		if r.opts.Cooldown > 0 && !sc.LastRun.IsZero() && time.Since(sc.LastRun) < r.opts.Cooldown {
			continue
		}
		dev, err := r.resolve(sc.DeviceID)
		if err != nil {
			r.log.WithError(err).WithField("device", sc.DeviceID).Debug("Scenario device unavailable")
			continue
		}
		snap, err := dev.Reading(r.ctx, r.opts.SensorMaxAge)
		if err != nil {
			r.log.WithError(err).WithField("device", sc.DeviceID).Debug("Reading unavailable for scenario")
			continue
		}
		match, err := sc.Cond.Matches(snap.Reading)
		if err != nil {
			r.log.WithError(err).WithField("scenario", sc.Name).Warn("Bad scenario condition")
			continue
		}
		if match {
			r.execute(sc)
		}
	}
}

// execute applies the scenario action to its device and records the run.
func (r *Runner) execute(sc Scenario) {
	log := r.log.WithFields(logrus.Fields{
		"scenario": sc.Name,
		"device":   sc.DeviceID,
	})

	dev, err := r.resolve(sc.DeviceID)
	if err != nil {
		log.WithError(err).Warn("Scenario device unavailable")
		return
	}

	if sc.Action.SetMode != nil {
		if !dev.Capabilities().Modes && *sc.Action.SetMode != tion.ModeOutside {
			log.WithField("mode", sc.Action.SetMode.String()).Warn("Device does not support air modes, skipping mode change")
		} else if err := dev.SetMode(r.ctx, *sc.Action.SetMode); err != nil {
			log.WithError(err).Warn("Scenario mode change failed")
			return
		}
	}
	if sc.Action.SetSpeed != nil {
		if err := dev.SetSpeed(r.ctx, *sc.Action.SetSpeed); err != nil {
			log.WithError(err).Warn("Scenario speed change failed")
			return
		}
	}

	if err := r.store.MarkRun(sc.ID, time.Now()); err != nil {
		log.WithError(err).Warn("Failed to record scenario run")
	}
	log.Info("Scenario executed")
}
