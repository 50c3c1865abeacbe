/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"

	"github.com/Seednode/valentines/valentine"
	"github.com/Seednode/valentines/valentine/postgres"
	"github.com/Seednode/valentines/valentine/redisfeed"
)

// backend is everything the handlers need to reach valentines, plus what
// has to be torn down on exit, in order.
type backend struct {
	service *valentine.Service
	broker  *valentine.Broker
	closers []func() error
}

func openStore(ctx context.Context, cfg *Config) (valentine.Store, func() error, error) {
	if cfg.databaseURL == "" {
		cfg.log.Warn().Msg("no --database-url given, valentines will be kept in memory")
		return valentine.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := postgres.Open(ctx, cfg.databaseURL)
	if err != nil {
		return nil, nil, err
	}

	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cfg.log.Info().Msg("connected to postgres")

	return postgres.New(db), db.Close, nil
}

func openBackend(ctx context.Context, cfg *Config) (*backend, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &backend{
		broker: valentine.NewBroker(cfg.feedBuffer),
	}

	opts := []valentine.Option{
		valentine.WithLogger(cfg.log),
	}

	if cfg.redisURL != "" {
		client, err := redisfeed.Dial(ctx, cfg.redisURL)
		if err != nil {
			_ = closeStore()
			return nil, err
		}

		relay, err := redisfeed.New(ctx, client, b.broker, cfg.log)
		if err != nil {
			_ = client.Close()
			_ = closeStore()
			return nil, err
		}

		cfg.log.Info().Msg("relaying live updates through redis")

		opts = append(opts, valentine.WithPublisher(relay))
		b.closers = append(b.closers, relay.Close, client.Close)
	}

	b.closers = append(b.closers, func() error {
		b.broker.Close()
		return nil
	}, closeStore)

	b.service = valentine.NewService(store, b.broker, opts...)

	return b, nil
}

func (b *backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
