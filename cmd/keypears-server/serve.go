// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/keypears/keypears-core/api"
	"github.com/keypears/keypears-core/config"
	"github.com/keypears/keypears-core/core/admission"
	"github.com/keypears/keypears-core/core/channel"
	"github.com/keypears/keypears-core/core/engagement"
	"github.com/keypears/keypears-core/core/secretlog"
	"github.com/keypears/keypears-core/core/vault"
	"github.com/keypears/keypears-core/federation"
	"github.com/keypears/keypears-core/health"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pkg/storage/memory"
	"github.com/keypears/keypears-core/pkg/storage/postgres"
	"github.com/keypears/keypears-core/pow"
)

var serveConfigDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoaderOptions{ConfigDir: serveConfigDir})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", "config", "directory containing config files")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfg *config.Config) error {
	log := logger.NewDefaultLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	powController := pow.NewController(
		store.PowChallenges(), store.Vaults(), store.Channels(),
		pow.Config{RegistrationDifficulty: cfg.Pow.RegistrationDifficulty},
		log,
	)
	registry := vault.NewRegistry(store.Vaults(), store.Sessions(), powController, vault.Config{
		AcceptedDomains: cfg.Server.AcceptedDomains,
		SessionTTL:      cfg.Server.SessionTTL.Std(),
	}, log)
	engagementService := engagement.NewService(store.EngagementKeys(), store.Vaults(), log)

	resolver := federation.NewResolver(cfg.Federation.Endpoints)
	verifier := federation.NewHTTPVerifier(resolver, log)

	admissionService := admission.NewService(
		powController, store.Vaults(), engagementService,
		store.Channels(), store.Inbox(), verifier,
		admission.Config{LocalDomains: cfg.Server.AcceptedDomains},
		log,
	)
	channelManager := channel.NewManager(store.Channels(), store.Inbox(), log)
	secretLog := secretlog.NewLog(store.SecretUpdates(), log)

	checker := health.NewChecker()
	checker.Register("database", store.Ping)

	server := api.NewServer(api.Deps{
		Registry:   registry,
		Engagement: engagementService,
		Admission:  admissionService,
		Channels:   channelManager,
		Secrets:    secretLog,
		Pow:        powController,
		Checker:    checker,
		Log:        log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("api listening",
			logger.String("addr", cfg.Server.ListenAddr),
			logger.String("domain", cfg.Server.Domain))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			log.Info("metrics listening", logger.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		sweepExpired(ctx, store, log)
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.InMemory {
		return memory.NewStore(), nil
	}

	store, err := postgres.NewStore(ctx, &postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// sweepExpired deletes expired sessions and unconsumed challenges on a
// fixed cadence.
func sweepExpired(ctx context.Context, store storage.Store, log logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.PowChallenges().DeleteExpired(ctx); err == nil && n > 0 {
				log.Debug("swept expired pow challenges", logger.Int64("count", n))
			}
			if n, err := store.Sessions().DeleteExpired(ctx); err == nil && n > 0 {
				log.Debug("swept expired sessions", logger.Int64("count", n))
			}
		}
	}
}
