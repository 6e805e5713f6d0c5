// Package orchestrator implements C9: it drives the plan timer and the
// observation timer as two cooperative periodic tasks, single-flights
// overlapping plan ticks, tracks a small run-state machine, and pushes
// schedule changes out over package httpapi's WebSocket broadcast.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/cepro-home/energy-planner/config"
	"github.com/cepro-home/energy-planner/forecaststore"
	"github.com/cepro-home/energy-planner/httpapi"
	"github.com/cepro-home/energy-planner/internal/retry"
	"github.com/cepro-home/energy-planner/obsstore"
	"github.com/cepro-home/energy-planner/plant"
	"github.com/cepro-home/energy-planner/planner"
	"github.com/cepro-home/energy-planner/planner/assemble"
	"github.com/cepro-home/energy-planner/planner/milp"
	"github.com/cepro-home/energy-planner/planner/project"
	"github.com/cepro-home/energy-planner/risk"
	"github.com/cepro-home/energy-planner/schedulestore"
	"github.com/cepro-home/energy-planner/tariff"
)

const plannerVersion = "1.0.0"

// PeriodicTask is an initial-delay-then-ticker loop that honors both
// context cancellation and an explicit stop channel.
type PeriodicTask struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	RunFunc      func(ctx context.Context)
}

func (pt PeriodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if pt.InitialDelay > 0 {
		select {
		case <-time.After(pt.InitialDelay):
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		}
	}
	pt.RunFunc(ctx)

	ticker := time.NewTicker(pt.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pt.RunFunc(ctx)
		case <-ctx.Done():
			logger.Printf("[%s] stopped: %v", pt.Name, ctx.Err())
			return
		case <-stopChan:
			logger.Printf("[%s] stopped: stop signal", pt.Name)
			return
		}
	}
}

// Orchestrator wires every component (C1-C8) into the two periodic
// tasks.
type Orchestrator struct {
	cfg    *config.Config
	logger *log.Logger

	plant        *plant.Client
	forecasts    *forecaststore.Store
	observations *obsstore.Store
	schedules    *schedulestore.Store
	risk         *risk.Engine

	httpServer *httpapi.Server

	mu             sync.RWMutex
	state          httpapi.State
	lastTick       time.Time
	lastError      string
	ticking        bool
	lastSOCPercent float64
	haveLastSOC    bool
	tariffCache    *tariff.Model
	stopChan       chan struct{}

	forecastVersion string
}

// Deps bundles the already-constructed dependencies an Orchestrator
// needs; everything here is a concrete store/client, not an interface,
// since each has exactly one production implementation in this module.
type Deps struct {
	Config       *config.Config
	Logger       *log.Logger
	Plant        *plant.Client
	Forecasts    *forecaststore.Store
	Observations *obsstore.Store
	Schedules    *schedulestore.Store
	Risk         *risk.Engine
	ForecastVersion string
}

// New builds an Orchestrator and, if cfg.HealthCheckPort is set, an
// attached httpapi.Server.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	o := &Orchestrator{
		cfg:             d.Config,
		logger:          logger,
		plant:           d.Plant,
		forecasts:       d.Forecasts,
		observations:    d.Observations,
		schedules:       d.Schedules,
		risk:            d.Risk,
		state:           httpapi.StateIdle,
		stopChan:        make(chan struct{}),
		forecastVersion: d.ForecastVersion,
	}
	o.httpServer = httpapi.New(o, d.Config.HealthCheckPort, logger)
	return o
}

// GetStatus implements httpapi.StatusProvider.
func (o *Orchestrator) GetStatus() httpapi.Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	status := httpapi.Status{State: o.state, LastTick: o.lastTick, LastError: o.lastError}
	if !o.lastTick.IsZero() {
		status.NextTick = o.lastTick.Add(time.Duration(o.cfg.Planner.IntervalMinutes) * time.Minute)
	}
	return status
}

// GetSchedule implements httpapi.StatusProvider.
func (o *Orchestrator) GetSchedule(ctx context.Context) (planner.ActionSchedule, error) {
	return o.schedules.Load(ctx)
}

// Run starts the plan and observation timers and blocks until ctx is
// canceled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.httpServer != nil {
		if err := o.httpServer.Start(); err != nil {
			o.logger.Printf("orchestrator: failed to start status server: %v", err)
		}
	}

	interval := time.Duration(o.cfg.Planner.IntervalMinutes) * time.Minute
	planDelay := 2 * time.Second
	if j := o.cfg.Planner.JitterMinutes; j > 0 {
		planDelay += time.Duration(rand.Int63n(int64(j) * int64(time.Minute)))
	}
	// Observations fire on slot boundaries: first at the next boundary,
	// then once per slot.
	slotDur := o.cfg.SlotDuration()
	startNow := time.Now()
	obsDelay := startNow.Truncate(slotDur).Add(slotDur).Sub(startNow)
	tasks := []PeriodicTask{
		{
			Name:         "ObservationTick",
			InitialDelay: obsDelay,
			Interval:     slotDur,
			RunFunc:      o.runObservationTick,
		},
		{
			Name:         "PlanTick",
			InitialDelay: planDelay,
			Interval:     interval,
			RunFunc:      o.runPlanTick,
		},
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.run(ctx, o.stopChan, o.logger)
		}()
	}
	wg.Wait()

	if o.httpServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.httpServer.Stop(stopCtx)
	}
	return nil
}

// Stop signals both periodic tasks to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.stopChan:
	default:
		close(o.stopChan)
	}
}

// Pause suspends planning without stopping the observation timer.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == httpapi.StateIdle || o.state == httpapi.StateFailed {
		o.state = httpapi.StatePaused
	}
}

// Resume lifts a Pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == httpapi.StatePaused {
		o.state = httpapi.StateIdle
	}
}

// runPlanTick is single-flighted: an overlapping tick (a prior solve
// still running past the next interval boundary) is skipped rather than
// queued. A paused orchestrator skips planning entirely while its
// observation timer keeps running.
func (o *Orchestrator) runPlanTick(ctx context.Context) {
	o.mu.Lock()
	if o.state == httpapi.StatePaused {
		o.mu.Unlock()
		return
	}
	if o.ticking {
		o.mu.Unlock()
		o.logger.Printf("orchestrator: plan tick already in progress, skipping")
		return
	}
	o.ticking = true
	o.state = httpapi.StateTicking
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.ticking = false
		o.mu.Unlock()
	}()

	now := time.Now().In(o.cfg.Location())
	if err := o.plan(ctx, now); err != nil {
		o.mu.Lock()
		o.state = httpapi.StateFailed
		o.lastError = err.Error()
		o.lastTick = now
		o.mu.Unlock()
		o.logger.Printf("orchestrator: plan tick failed: %v", err)
		if serr := o.schedules.SetLastError(ctx, err.Error()); serr != nil {
			o.logger.Printf("orchestrator: failed to record last error: %v", serr)
		}
		return
	}

	o.mu.Lock()
	o.state = httpapi.StateIdle
	o.lastError = ""
	o.lastTick = now
	o.mu.Unlock()
}

func (o *Orchestrator) plan(ctx context.Context, now time.Time) error {
	if err := o.ensureTariff(ctx, now); err != nil {
		return err
	}

	telemetry, telErr := o.plant.ReadSiteTelemetry()
	if telErr != nil {
		return planner.NewError(planner.KindSoCUnavailable, fmt.Errorf("failed to read plant telemetry: %w", telErr))
	}

	o.mu.RLock()
	tm := o.tariffCache
	o.mu.RUnlock()
	deps := assemble.Deps{
		Config:          o.cfg,
		Tariff:          tm,
		Forecasts:       o.forecasts,
		Observations:    o.observations,
		Risk:            o.risk,
		ForecastVersion: o.forecastVersion,
	}
	assembled, err := assemble.Assemble(ctx, deps, now, *telemetry, true)
	if err != nil {
		return err
	}
	for _, w := range assembled.Warnings {
		o.logger.Printf("orchestrator: %s", w)
	}

	result, err := milp.Solve(ctx, assembled.Input)
	if err != nil {
		return err
	}

	opts := project.Opts{
		InitialSOCKWh:             assembled.Input.InitialSOCKWh,
		ManualExportTargetPercent: o.cfg.Arbitrage.ManualExportTargetPercent,
	}
	if assembled.Input.WaterHeater.Enabled() {
		opts.WaterPowerKW = assembled.Input.WaterHeater.PowerKW
	}
	sched, err := project.Project(assembled.Input.Horizon, assembled.Input.Battery, result, opts)
	if err != nil {
		return planner.NewError(planner.KindSolverError, err)
	}
	sched.PlannedAt = now
	sched.PlannerVersion = plannerVersion

	if err := o.schedules.MarkHistorical(ctx, now); err != nil {
		return err
	}
	if err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		return o.schedules.Save(ctx, now, sched)
	}); err != nil {
		return err
	}

	if o.httpServer != nil {
		o.httpServer.NotifyScheduleChanged(sched)
	}
	return nil
}

// ensureTariff (re)downloads the tariff model if the cached one no
// longer covers now.
func (o *Orchestrator) ensureTariff(ctx context.Context, now time.Time) error {
	o.mu.RLock()
	cached := o.tariffCache
	o.mu.RUnlock()
	if cached != nil {
		if _, ok := cached.LookupSpotPerMWh(now); ok {
			return nil
		}
	}
	m, err := tariff.Fetch(ctx, o.cfg.SecurityToken, o.cfg.URLFormat, o.cfg.Location())
	if err != nil {
		return err
	}
	m.GridTransferFee = o.cfg.Pricing.GridTransferFee
	m.EnergyTax = o.cfg.Pricing.EnergyTax
	m.VATPercent = o.cfg.Pricing.VATPercent
	o.mu.Lock()
	o.tariffCache = m
	o.mu.Unlock()
	return nil
}

// runObservationTick reads the cumulative sensors once at the slot
// boundary and records the interval that just elapsed. A failure here
// never aborts planning; it is logged and the next boundary tries
// again.
func (o *Orchestrator) runObservationTick(ctx context.Context) {
	telemetry, err := o.plant.ReadSiteTelemetry()
	if err != nil {
		o.logger.Printf("orchestrator: observation tick: failed to read telemetry: %v", err)
		return
	}

	now := time.Now().In(o.cfg.Location())
	slotDur := o.cfg.SlotDuration()
	slotEnd := now.Truncate(slotDur)
	slotStart := slotEnd.Add(-slotDur)

	var importPrice, exportPrice float64
	o.mu.RLock()
	tm := o.tariffCache
	o.mu.RUnlock()
	if tm != nil {
		if spot, ok := tm.LookupSpotPerMWh(slotStart); ok {
			importPrice = tm.ImportPrice(spot)
			exportPrice = tm.ExportPrice(spot, o.cfg.Arbitrage.ExportFees)
		}
	}

	o.mu.Lock()
	socStart := o.lastSOCPercent
	if !o.haveLastSOC {
		socStart = telemetry.BatterySOCPercent
	}
	o.lastSOCPercent = telemetry.BatterySOCPercent
	o.haveLastSOC = true
	o.mu.Unlock()

	counters := obsstore.Counters{
		PVKWh:        telemetry.CumulativePVKWh,
		ImportKWh:    telemetry.CumulativeImportKWh,
		ExportKWh:    telemetry.CumulativeExportKWh,
		ChargeKWh:    telemetry.CumulativeChargeKWh,
		DischargeKWh: telemetry.CumulativeDischargeKWh,
	}
	if _, err := o.observations.RecordFromCounters(ctx, slotStart, slotEnd, counters,
		socStart, telemetry.BatterySOCPercent, importPrice, exportPrice); err != nil {
		o.logger.Printf("orchestrator: observation tick: failed to record observation: %v", err)
	}
}
