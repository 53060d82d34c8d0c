// Copyright 2026 The Cargolift Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cargolift/cargolift/internal/audit"
	"github.com/cargolift/cargolift/internal/authz"
	"github.com/cargolift/cargolift/internal/config"
	"github.com/cargolift/cargolift/internal/identity"
	"github.com/cargolift/cargolift/internal/observability/logger"
	"github.com/cargolift/cargolift/internal/observability/metrics"
	"github.com/cargolift/cargolift/internal/observability/tracing"
	"github.com/cargolift/cargolift/internal/session"
	"github.com/cargolift/cargolift/internal/store/postgres"
	transportHTTP "github.com/cargolift/cargolift/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting cargolift auth service")

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Grant table validation is a boot-time check: a protected resource
	// type without an entry must fail here, never at request time.
	registry := authz.DefaultRegistry()
	if err := registry.Validate(authz.ProtectedResourceTypes...); err != nil {
		slog.Error("grant table validation failed", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("grant table validated", slog.Int("resource_types", len(authz.ProtectedResourceTypes)))

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	tokenRepo := postgres.NewRefreshTokenRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Initialize services
	identityService := identity.NewService(userRepo, passwordHasher, auditLogger)

	sessionService, err := session.NewService(tokenRepo, identityService, auditLogger, session.Config{
		Issuer:          cfg.Token.Issuer,
		Audience:        cfg.Token.Audience,
		AccessTokenTTL:  cfg.Token.AccessTokenTTL,
		RefreshTokenTTL: cfg.Token.RefreshTokenTTL,
	})
	if err != nil {
		slog.Error("failed to initialize session service", logger.Error(err))
		os.Exit(1)
	}

	engine := authz.NewEngine(registry)
	gateway := authz.NewGateway(engine, auditLogger)

	// Initialize transport
	handler := transportHTTP.NewHandler(sessionService, gateway, transportHTTP.CookieConfig{
		Name:   cfg.Token.CookieName,
		Domain: cfg.Token.CookieDomain,
		Path:   cfg.Token.CookiePath,
		Secure: cfg.Token.CookieSecure,
	})
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", logger.Error(err))
	}
}
