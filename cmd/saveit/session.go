package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robertmeta/saveit/cache"
	"github.com/robertmeta/saveit/config"
	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/repository"
	"github.com/robertmeta/saveit/store"
	"github.com/urfave/cli/v2"
)

// shutdownTimeout bounds how long Close waits for queued writes.
const shutdownTimeout = 5 * time.Second

// Tests swap these to inject failing writes or reloads.
var (
	gatewayFor   = func(s *store.Store) repository.Gateway { return s }
	refresherFor = func(c *cache.Synchronizer) repository.Refresher { return c }
)

// session holds everything a command needs to read and write sources.
type session struct {
	cfg     config.Config
	cfgPath string
	log     logger.Logger
	store   *store.Store
	cache   *cache.Synchronizer
	repo    *repository.Repository
}

// loadConfig builds the logger and reads the config file, honouring
// --reset-config and --log-level.
func loadConfig(c *cli.Context) (config.Config, logger.Logger, error) {
	path := c.String("config")

	log, err := logger.New(logger.Config{Level: levelOr(c, logger.DefaultLevel)})
	if err != nil {
		return config.Config{}, nil, cli.Exit(fmt.Sprintf("Failed to create logger: %v", err), ExitGeneralError)
	}

	if c.Bool("reset-config") {
		if err := config.Reset(path); err != nil {
			return config.Config{}, nil, cli.Exit(fmt.Sprintf("Failed to reset config: %v", err), ExitDataError)
		}
		log.Info("Config reset to defaults", logger.String("path", path))
	}

	cfg, err := config.LoadOrReset(path, log)
	if err != nil {
		return config.Config{}, nil, cli.Exit(fmt.Sprintf("Failed to load config: %v", err), ExitDataError)
	}

	if !c.IsSet("log-level") && cfg.Log.Level != logger.DefaultLevel {
		if l, err := logger.New(cfg.Log); err == nil {
			log = l
		}
	}
	return cfg, log, nil
}

func levelOr(c *cli.Context, fallback string) string {
	if c.IsSet("log-level") {
		return c.String("log-level")
	}
	return fallback
}

// openSession loads the config, opens the database and fills the cache.
func openSession(c *cli.Context) (*session, error) {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	dbPath := c.String("db")
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, cli.Exit(fmt.Sprintf("Failed to create database directory: %v", err), ExitDataError)
		}
	}

	s, err := store.New(dbPath)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to open database: %v", err), ExitDataError)
	}

	if c.Bool("reset-database") {
		if err := s.Reset(c.Context); err != nil {
			s.Close()
			return nil, cli.Exit(fmt.Sprintf("Failed to reset database: %v", err), ExitDataError)
		}
		log.Info("Database reset", logger.String("path", dbPath))
	}

	cached := cache.New(s, log)
	if err := cached.Refresh(c.Context); err != nil {
		s.Close()
		return nil, cli.Exit(fmt.Sprintf("Failed to load sources: %v", err), ExitDataError)
	}

	return &session{
		cfg:     cfg,
		cfgPath: c.String("config"),
		log:     log,
		store:   s,
		cache:   cached,
		repo:    repository.New(gatewayFor(s), refresherFor(cached), log),
	}, nil
}

// Close drains queued writes and closes the database.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.repo.Close(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	_ = s.log.Sync()
	return err
}

func outputJSON(c *cli.Context, v interface{}) error {
	encoder := json.NewEncoder(c.App.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
