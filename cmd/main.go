package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"skarv/internal/config"
	"skarv/internal/engine"
	"skarv/internal/order"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("bad configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	eng := engine.New(cfg, log)
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("engine start failed")
	}
	eng.Register(".N225")
	eng.Register(".SPX")

	// Seed .N225 with a small session so matching has something to do.
	cp1 := order.NewParty("CP1", log)
	cp2 := order.NewParty("CP2", log)
	submit := func(o *order.Order, err error, cp order.CounterParty) {
		if err != nil {
			log.Error().Err(err).Msg("bad order")
			return
		}
		if err := eng.SubmitFor(".N225", o, cp); err != nil {
			log.Error().Err(err).Stringer("order", o).Msg("submit failed")
		}
	}
	sell := func(qty int64, price float64, cp order.CounterParty) {
		o, err := order.NewSell(".N225", qty, price, 100)
		submit(o, err, cp)
	}
	buy := func(qty int64, price float64, cp order.CounterParty) {
		o, err := order.NewBuy(".N225", qty, price, 100)
		submit(o, err, cp)
	}
	sell(1, 20.30, cp1)
	sell(1, 20.25, cp1)
	sell(2, 20.30, cp1)
	buy(1, 20.15, cp2)
	buy(2, 20.15, cp2)
	buy(3, 20.35, cp2)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()
	<-ctx.Done()

	if err := eng.Shutdown(); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
