package server

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/apluslms/static-file-host/internal/server/auth"
	"github.com/apluslms/static-file-host/internal/server/publish"
)

type Services struct {
	Publish *publish.PublishService
	Auth    *auth.Authenticator
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	authn, err := auth.NewAuthenticator(&config.Auth)
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	publishSvc, err := publish.NewPublishService(&config.Publish, db)
	if err != nil {
		return nil, fmt.Errorf("create publish service: %w", err)
	}

	return &Services{
		Publish: publishSvc,
		Auth:    authn,
	}, nil
}

func (s *Services) Start(ctx context.Context) error {
	if err := s.Publish.Start(ctx); err != nil {
		return fmt.Errorf("start publish service: %w", err)
	}
	return nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if err := s.Publish.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop publish service: %w", err)
	}
	return nil
}
