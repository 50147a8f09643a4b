package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/flashmart-backend/pkg/bootstrap"
	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type subscriptionChecker interface {
	pinger
	EnsureSubscription(ctx context.Context, name string) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               subscriptionChecker
	NotificationConsumer consumer
}

// Service gates the notification consumer behind a readiness pass over its stores and the
// orders subscription.
type Service struct {
	logg     *logger.Logger
	checks   []bootstrap.Check
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.NotificationConsumer == nil:
		return nil, errors.New("notification consumer is required")
	}

	subscription := params.Config.PubSub.OrdersSubscription
	return &Service{
		logg: params.Logger,
		checks: []bootstrap.Check{
			{Name: "database", Probe: params.DB.Ping},
			{Name: "redis", Probe: params.Redis.Ping},
			{Name: "pubsub", Probe: params.PubSub.Ping},
			{Name: "orders subscription", Probe: func(ctx context.Context) error {
				return params.PubSub.EnsureSubscription(ctx, subscription)
			}},
		},
		consumer: params.NotificationConsumer,
	}, nil
}

// Run blocks until the consumer stops. Cancellation is a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := bootstrap.Ready(ctx, s.logg, s.checks...); err != nil {
		return err
	}

	err := s.consumer.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		s.logg.Info(ctx, "notification consumer stopped")
		return ctx.Err()
	}
	s.logg.Error(ctx, "notification consumer stopped unexpectedly", err)
	return err
}
