package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type subscriptionChecker interface {
	pinger
	EnsureSubscription(ctx context.Context, name string) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    pinger
	PubSub   subscriptionChecker
	Consumer runner
	// Analytics is optional; it runs next to the notification consumer.
	Analytics runner
	// AnalyticsBigQuery is checked before the analytics consumer starts.
	AnalyticsBigQuery pinger
}

// Service runs the fulfillment mail consumer and, when configured, the
// settlement analytics consumer. Either failing stops both.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	redis     pinger
	pubsub    subscriptionChecker
	consumer  runner
	analytics runner
	bigquery  pinger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Consumer == nil:
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		redis:     params.Redis,
		pubsub:    params.PubSub,
		consumer:  params.Consumer,
		analytics: params.Analytics,
		bigquery:  params.AnalyticsBigQuery,
	}, nil
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

func (s *Service) subscription(name string) readinessCheck {
	return readinessCheck{
		name:  "subscription " + name,
		check: func(ctx context.Context) error { return s.pubsub.EnsureSubscription(ctx, name) },
	}
}

// checks lists what must answer before any message is pulled, in order.
func (s *Service) checks() []readinessCheck {
	list := []readinessCheck{
		{"redis", s.redis.Ping},
		{"pubsub", s.pubsub.Ping},
		s.subscription(s.cfg.PubSub.NotificationSubscription),
	}
	if s.analytics == nil {
		return list
	}
	if s.bigquery != nil {
		list = append(list, readinessCheck{"bigquery", s.bigquery.Ping})
	}
	for _, name := range s.cfg.PubSub.AnalyticsSubscriptionNames() {
		list = append(list, s.subscription(name))
	}
	return list
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, c := range s.checks() {
		if err := c.check(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", c.name), "dependency not ready", err)
			return fmt.Errorf("%s not ready: %w", c.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	s.start(groupCtx, group, "notification", s.consumer)
	if s.analytics != nil {
		s.start(groupCtx, group, "analytics", s.analytics)
	}
	if err := group.Wait(); err != nil {
		return err
	}
	s.logg.Info(ctx, "worker consumers stopped")
	return ctx.Err()
}

func (s *Service) start(ctx context.Context, group *errgroup.Group, name string, consumer runner) {
	group.Go(func() error {
		err := consumer.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		s.logg.Error(s.logg.WithField(ctx, "consumer", name), "consumer stopped unexpectedly", err)
		return err
	})
}
