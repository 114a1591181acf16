package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"weathercast/api"
	"weathercast/cache"
	"weathercast/config"
	"weathercast/internal/logger"
	"weathercast/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", getDefaultConfigPath(), "Path to TOML configuration file")
	logLevel := flag.String("log-level", "", "Logging level override (debug, info, warn, error)")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the environment is read")
	generateConfig := flag.Bool("generate-config", false, "Generate a sample configuration file and exit")
	location := flag.String("location", "", "Print the forecast for this location as JSON and exit")
	serve := flag.Bool("serve", false, "Run the HTTP server")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			logger.Fatal("Failed to generate sample config: %v", err)
		}
		logger.Info("Sample configuration file created at: %s", *configPath)
		logger.Info("Please edit the file to add your OpenWeather API key")
		return
	}

	if *location == "" && !*serve {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -location <place> or -serve")
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnvFiles(*envFile); err != nil {
		logger.Fatal("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("%v", err)
	}

	if err := logger.Initialize(logger.Config(cfg.Logging)); err != nil {
		logger.Fatal("Failed to initialize logging: %v", err)
	}
	defer logger.Get().Close()
	if name := logger.Get().FileName(); name != "" {
		logger.Info("Writing logs to %s", name)
	}

	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			logger.Warn("Invalid log level: %s, keeping %s", *logLevel, cfg.Logging.Level)
		} else {
			logger.SetLevel(level)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start: %v", err)
	}
	defer app.Close()

	if *location != "" {
		if err := printForecast(ctx, app.forecasts, *location); err != nil {
			app.Close()
			logger.Fatal("%s", api.PublicMessage(err))
		}
		return
	}

	if err := app.serve(ctx, cfg.Server); err != nil {
		app.Close()
		logger.Fatal("HTTP server failed: %v", err)
	}
}

// loadConfig reads the TOML file. A missing file is tolerated when the API key
// comes from the environment, so containers can run without one.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		var notFound *config.ConfigNotFoundError
		if !errors.As(err, &notFound) || os.Getenv("OPENWEATHER_API_KEY") == "" {
			return nil, err
		}
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// application holds the wired components and releases them on Close
type application struct {
	store     cache.Store
	janitor   *cache.Janitor
	forecasts *api.ForecastService
}

func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	store, err := cache.New(ctx, cfg.Cache, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("cache backend %q: %w", cfg.Cache.Backend, err)
	}

	app := &application{store: store}

	if purger, ok := store.(cache.Purger); ok {
		app.janitor = cache.NewJanitor(purger, cfg.Cache.PurgeInterval())
		if err := app.janitor.Start(); err != nil {
			store.Close()
			return nil, fmt.Errorf("start cache janitor: %w", err)
		}
	}

	client := api.NewWeatherClient(api.ClientConfig{
		BaseURL:         cfg.Weather.BaseURL,
		Lang:            cfg.Weather.Lang,
		ForecastCount:   cfg.Weather.ForecastCount,
		Timeout:         cfg.Weather.Timeout(),
		BreakerFailures: uint32(cfg.Breaker.MaxConsecutiveFailures),
		BreakerOpen:     cfg.Breaker.OpenDuration(),
	})

	forecasts, err := api.NewForecastService(api.ServiceConfig{
		APIKey:       cfg.APIs.OpenWeather,
		Fetcher:      client,
		Cache:        store,
		TTL:          cfg.Cache.TTL(),
		Development:  !cfg.IsProduction(),
		CacheBackend: cfg.Cache.Backend,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.forecasts = forecasts

	logger.Info("weathercast ready (environment=%s, cache=%s)", cfg.App.Environment, cfg.Cache.Backend)
	return app, nil
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully
func (a *application) serve(ctx context.Context, cfg config.Server) error {
	srv := server.New(server.Config{
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}, a.forecasts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *application) Close() {
	if a.janitor != nil {
		a.janitor.Stop()
		a.janitor = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close cache store: %v", err)
		}
		a.store = nil
	}
}

func printForecast(ctx context.Context, forecasts *api.ForecastService, location string) error {
	forecast, err := forecasts.GetForecast(ctx, location)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(forecast)
}

// getDefaultConfigPath returns a cross-platform default config path
func getDefaultConfigPath() string {
	return filepath.Clean("config.toml")
}
