package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/hostfactory"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/profile"
	"github.com/srg/blimp/internal/script"
	"github.com/srg/blimp/pkg/config"
)

// Serve phases shown by the progress line
const (
	phasePoweringOn  = "powering on"
	phaseServices    = "adding services"
	phaseAdvertising = "starting advertising"
	phaseReady       = "ready"
)

var serveNoProgress bool

var serveCmd = &cobra.Command{
	Use:   "serve <profile>",
	Short: "Publish a profile's GATT services and advertise them",
	Long: `Publishes the GATT services described by a YAML profile, advertises
the profile name and service UUIDs, and answers central requests until
interrupted with Ctrl+C.

Characteristics with a value or value_hex are served by the Bluetooth stack.
Characteristics with a script are answered by its on_read/on_write Lua
functions. The rest answer reads with an empty value and accept writes.`,
	Example: `  blimp serve battery.yaml
  blimp serve --config blimp.yaml --log-level debug heart-rate.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoProgress, "no-progress", false, "Do not draw the startup progress line")
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	prof, err := profile.Load(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progressOut io.Writer
	if !serveNoProgress {
		progressOut = progressWriter(cmd.ErrOrStderr())
	}
	return serve(ctx, cfg, prof, logger, progressOut)
}

// serve runs the peripheral described by prof until ctx is done. A nil
// progressOut disables the progress line.
func serve(ctx context.Context, cfg *config.Config, prof *profile.Profile, logger *logrus.Logger, progressOut io.Writer) error {
	host, err := hostfactory.HostFactory(cfg, logger)
	if err != nil {
		return err
	}
	p, err := peripheral.New(host, logger, &peripheral.Options{
		SubmissionTimeout: cfg.SubmissionTimeout,
		EventBuffer:       cfg.EventBuffer,
	})
	if err != nil {
		return err
	}
	var engines []*script.Engine
	defer func() {
		if err := p.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close peripheral")
		}
		for _, e := range engines {
			e.Close()
		}
	}()

	// Handlers go in before the services so that no request finds the
	// characteristic without its script.
	engines, err = attachScripts(p.Servicer(), prof, logger)
	if err != nil {
		return err
	}

	var progress *ProgressPrinter
	if progressOut != nil {
		progress = NewCountdownProgressPrinter(progressOut, "Starting "+prof.Name, phasePoweringOn, cfg.PowerOnTimeout, phaseReady)
		progress.Start()
		defer progress.Stop()
	}
	setPhase := func(phase string) {
		if progress != nil {
			progress.SetPhase(phase)
		}
	}

	if err := waitPoweredOn(ctx, p, cfg); err != nil {
		return err
	}

	setPhase(phaseServices)
	for _, svc := range prof.PrimaryServices() {
		if err := p.AddService(svc).Wait(ctx); err != nil {
			return fmt.Errorf("add service %s: %w", gatt.ShortUUID(svc.UUID), err)
		}
		logger.WithFields(logrus.Fields{
			"service":         gatt.ShortUUID(svc.UUID),
			"characteristics": len(svc.Characteristics),
		}).Debug("Service registered")
	}

	setPhase(phaseAdvertising)
	uuids := prof.AdvertisedUUIDs()
	if err := p.StartAdvertising(prof.Name, uuids).Wait(ctx); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	setPhase(phaseReady)

	logger.WithFields(logrus.Fields{
		"name":     prof.Name,
		"services": gatt.ComposeAdvertisement(prof.Name, uuids).ServiceUUIDs(),
	}).Info("Advertising, press Ctrl+C to stop")

	logEvents(ctx, p.Events(), logger)

	p.StopAdvertising()
	logger.Info("Stopped advertising")
	return nil
}

// waitPoweredOn bounds the power-on wait by cfg.PowerOnTimeout.
func waitPoweredOn(ctx context.Context, p *peripheral.Peripheral, cfg *config.Config) error {
	powerCtx, cancel := context.WithTimeout(ctx, cfg.PowerOnTimeout)
	defer cancel()

	err := p.WaitPoweredOn(powerCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w (radio is %s after %s)", ErrPowerOnTimeout, p.PowerState(), cfg.PowerOnTimeout)
	}
	return err
}

// attachScripts loads one Lua engine per script binding and installs its
// handlers. The engines loaded so far are returned even on error so the
// caller can close them.
func attachScripts(s *peripheral.Servicer, prof *profile.Profile, logger *logrus.Logger) ([]*script.Engine, error) {
	var engines []*script.Engine
	for _, b := range prof.Scripts() {
		e := script.NewEngine(logger)
		if err := e.LoadFile(b.Path); err != nil {
			e.Close()
			return engines, fmt.Errorf("characteristic %s: %w", gatt.ShortUUID(b.Characteristic), err)
		}
		engines = append(engines, e)

		if b.Readable && e.HasFunction(script.ReadFunction) {
			s.HandleRead(b.Service, b.Characteristic, e.ReadHandler())
		}
		if b.Writable && e.HasFunction(script.WriteFunction) {
			s.HandleWrite(b.Service, b.Characteristic, e.WriteHandler())
		}
		logger.WithFields(logrus.Fields{
			"characteristic": gatt.ShortUUID(b.Characteristic),
			"script":         b.Path,
		}).Debug("Lua handlers attached")
	}
	return engines, nil
}

// logEvents logs the peripheral's event feed until ctx is done or the feed
// closes.
func logEvents(ctx context.Context, events <-chan peripheral.Event, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logEvent(logger, ev)
		}
	}
}

func logEvent(logger *logrus.Logger, ev peripheral.Event) {
	entry := logger.WithField("event", ev.Kind.String())
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}

	switch ev.Kind {
	case peripheral.EventPowerChanged:
		entry.WithField("state", ev.Power).Info("Radio power changed")
	case peripheral.EventAdvertisingStarted:
		entry.Info("Advertising started")
	case peripheral.EventAdvertisingStopped:
		entry.Warn("Advertising stopped by the host")
	case peripheral.EventServiceAdded:
		entry.WithField("service", gatt.ShortUUID(ev.Service)).Debug("Service added")
	case peripheral.EventRead, peripheral.EventWrite:
		if ev.Request != nil {
			entry = entry.WithFields(logrus.Fields{
				"central":        ev.Request.Central,
				"characteristic": gatt.ShortUUID(ev.Request.Characteristic),
				"offset":         ev.Request.Offset,
				"bytes":          len(ev.Request.Value),
			})
		}
		entry.WithField("status", ev.Status).Info("Request answered")
	default:
		entry.Debug("Event")
	}
}
