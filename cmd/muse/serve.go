package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SGIModel/MUSE-OS/internal/config"
	"github.com/SGIModel/MUSE-OS/internal/mca"
	"github.com/SGIModel/MUSE-OS/internal/ws"
)

func runServe(path, addr string) error {
	settings, err := config.Load(path)
	if err != nil {
		return err
	}

	// Each hosted run assembles a fresh model so agent pools start from
	// the settings, not from a previous run's investments.
	run := func(ctx context.Context, cb mca.Callback) error {
		model, err := settings.Build()
		if err != nil {
			return err
		}
		runner, err := mca.NewRunner(asSectors(model.Sectors), model.Options, tee(logCallback{}, model.Cache, cb))
		if err != nil {
			return err
		}
		_, err = runner.Run(ctx, model.Base)
		return err
	}

	hub := ws.NewHub()
	handler := ws.NewHandler(hub, run)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/ws", handler)

	slog.Info("serving", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
