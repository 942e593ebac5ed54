package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SGIModel/MUSE-OS/internal/config"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/mca"
	"github.com/SGIModel/MUSE-OS/internal/sector"
)

func runRun(path string) error {
	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	model, err := settings.Build()
	if err != nil {
		return err
	}
	runner, err := mca.NewRunner(asSectors(model.Sectors), model.Options, tee(logCallback{}, model.Cache))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, err := runner.Run(ctx, model.Base)
	if err != nil {
		return err
	}
	slog.Info("run complete",
		"years", len(settings.Years),
		"supply", final.Supply.Total(),
		"consumption", final.Consumption.Total())
	return nil
}

func runValidate(path string, tables bool) error {
	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	if tables {
		if _, err := settings.Build(); err != nil {
			return err
		}
	}
	fmt.Println("settings ok")
	return nil
}

func asSectors(secs []*sector.Sector) []mca.Sector {
	out := make([]mca.Sector, len(secs))
	for i, s := range secs {
		out[i] = s
	}
	return out
}

// teeCallback fans run events out to several callbacks.
type teeCallback struct {
	cbs []mca.Callback
}

func tee(cbs ...mca.Callback) teeCallback {
	return teeCallback{cbs: cbs}
}

func (t teeCallback) OnIteration(e mca.Event) {
	for _, c := range t.cbs {
		c.OnIteration(e)
	}
}

func (t teeCallback) OnPeriod(p mca.Period, m *market.Snapshot) {
	for _, c := range t.cbs {
		c.OnPeriod(p, m)
	}
}

// logCallback narrates run progress on the default logger.
type logCallback struct{}

func (logCallback) OnIteration(e mca.Event) {
	slog.Debug("iteration",
		"year", e.Year,
		"iteration", e.Iteration,
		"max_delta", e.MaxDelta,
		"unmet", e.Unmet,
		"converged", e.Converged)
}

func (logCallback) OnPeriod(p mca.Period, _ *market.Snapshot) {
	slog.Info("period cleared",
		"year", p.Year,
		"next", p.Next,
		"converged", p.Converged,
		"iterations", p.Iterations)
}
