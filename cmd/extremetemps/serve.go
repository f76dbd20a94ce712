package main

import (
	"context"
	"sync"

	"github.com/lox/extremetemps/internal/api"
	"github.com/lox/extremetemps/internal/imagegen"
	"github.com/lox/extremetemps/internal/ingest"
)

type ServeCmd struct {
	Port        string `help:"HTTP listen port." default:"8080" env:"PORT"`
	RefreshHour int    `help:"UTC hour after which the daily refresh runs." default:"6" env:"EXTREMETEMPS_REFRESH_HOUR"`
	NoSchedule  bool   `help:"Disable the daily refresh (server only, for local dev)."`
	CardDir     string `help:"Directory for cached insight cards." default:"data/cards" env:"EXTREMETEMPS_CARD_DIR"`
	Concurrency int    `help:"Stations ingested in parallel during a refresh." default:"4"`
}

func (c *ServeCmd) Run(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	insights := a.insights()
	orch := a.orchestrator()
	orch.SetConcurrency(c.Concurrency)

	refresh := ingest.NewRefreshManager(orch, insights, a.clock, a.logger)
	cards := imagegen.NewCache(c.CardDir, a.logger)
	server := api.NewServer(a.store, insights, refresh, api.Options{
		Port:   c.Port,
		Cards:  cards,
		Clock:  a.clock,
		Logger: a.logger,
	})

	var wg sync.WaitGroup
	if !c.NoSchedule {
		scheduler := ingest.NewScheduler(refresh, a.store, c.RefreshHour, a.clock, a.logger)
		scheduler.SetCardPruner(cards)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	} else {
		a.logger.Info("scheduler: disabled (--no-schedule)")
	}

	err := server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}
