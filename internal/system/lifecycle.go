package system

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/config"
	"github.com/alexanderbarati/tensiletester/internal/hal"
	"github.com/alexanderbarati/tensiletester/internal/kernel"
	"github.com/alexanderbarati/tensiletester/internal/loadcell"
	"github.com/alexanderbarati/tensiletester/internal/motion"
	"github.com/alexanderbarati/tensiletester/internal/protocol"
	"github.com/alexanderbarati/tensiletester/internal/storage"
	"github.com/alexanderbarati/tensiletester/internal/transport"
)

// LifecycleManager builds the component graph and runs the scheduler loop:
// one goroutine multiplexing the tick and incoming command lines, so the
// kernel stays single-threaded.
type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient // nil when the archive is disabled
	logger  *zap.Logger

	controller *kernel.Controller
	channel    io.ReadWriteCloser

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func NewLifecycleManager(store *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		config:       cfg,
		storage:      store,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// Controller returns the execution kernel.
func (lm *LifecycleManager) Controller() *kernel.Controller {
	return lm.controller
}

// Start wires the hardware layer, kernel and host channel, then launches
// the scheduler loop.
func (lm *LifecycleManager) Start() error {
	cfg := lm.config

	channel, err := transport.Open(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	lm.channel = channel
	resp := protocol.NewResponder(channel)

	// The register-level drivers are external collaborators; until one is
	// attached the simulated HAL stands in for the pins and the ADC.
	stepper := motion.NewStepper(motion.Config{
		StepsPerRev:   cfg.Motor.StepsPerRev,
		Microstepping: cfg.Motor.Microstepping,
		LeadMM:        cfg.Motor.LeadMM,
		MaxSpeed:      cfg.Motor.MaxSpeed,
		Acceleration:  cfg.Motor.Acceleration,
	}, motion.Pins{
		Step:   hal.NewOutput(),
		Dir:    hal.NewOutput(),
		Enable: hal.NewOutput(),
	}, lm.logger)
	stepper.SetLimitSwitches(hal.NewInput(), hal.NewInput())

	cell := loadcell.New(hal.NewLoadCellSim(), loadcell.Config{
		CalibrationFactor: cfg.LoadCell.CalibrationFactor,
		OverloadLimit:     cfg.LoadCell.OverloadLimit,
	}, lm.logger)

	lm.controller = kernel.NewController(
		lm.logger, stepper, cell, resp, hal.NewInput(),
		kernel.TestParameters{
			Speed:          cfg.Test.Speed,
			MaxForce:       cfg.Test.MaxForce,
			MaxExtension:   cfg.Test.MaxExtension,
			SampleRateMS:   cfg.Test.SampleRateMS,
			StopOnBreak:    cfg.Test.StopOnBreak,
			BreakThreshold: cfg.Test.BreakThreshold,
		},
		kernel.Limits{
			MaxSpeed:     cfg.Limits.MaxSpeed,
			MaxForce:     cfg.LoadCell.Capacity,
			MaxExtension: cfg.Limits.MaxExtension,
		},
	)
	lm.controller.SetTareSamples(cfg.Machine.TareSamples)

	if lm.storage != nil {
		if err := lm.storage.EnsureSchema(context.Background()); err != nil {
			return err
		}
		lm.controller.SetResultStore(lm.storage)
		lm.logger.Info("test run archive enabled")
	}

	lm.wg.Add(1)
	go lm.run(transport.Lines(channel))

	lm.logger.Info("tensile tester started",
		zap.String("serial_device", cfg.Serial.Device),
		zap.Duration("tick_interval", cfg.Machine.TickInterval))
	return nil
}

// run is the cooperative scheduler: every tick drives the kernel, command
// lines are dispatched between ticks. Nothing else touches kernel state.
func (lm *LifecycleManager) run(lines <-chan string) {
	defer lm.wg.Done()

	tick := lm.config.Machine.TickInterval
	if tick <= 0 {
		tick = 2 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-lm.shutdownChan:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil // host hung up; keep ticking
				continue
			}
			lm.controller.HandleCommand(protocol.Parse(line))
		case <-ticker.C:
			lm.controller.Update()
		}
	}
}

// Shutdown stops the scheduler loop and closes the host channel.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	lm.shutdownOnce.Do(func() {
		close(lm.shutdownChan)
	})

	done := make(chan struct{})
	go func() {
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if lm.channel != nil {
		lm.channel.Close()
	}
	lm.logger.Info("tensile tester stopped")
	return nil
}
