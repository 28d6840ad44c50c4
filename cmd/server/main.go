// Package main is the entry point of the Grok gateway. It serves an
// OpenAI-compatible chat completions API backed by Grok web sessions.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/router-for-me/grok2api/internal/cmd"
	"github.com/router-for-me/grok2api/internal/config"
	"github.com/router-for-me/grok2api/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	DefaultConfigPath = "config.yaml"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var grokLogin bool
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Config file path (.yaml or .toml)")
	flag.BoolVar(&grokLogin, "grok-login", false, "Add a Grok SSO token to the token pool")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("Grok2API Version: %s, Commit: %s\n", Version, Commit)
		return
	}

	if errLoad := godotenv.Load(); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	defer logging.CloseLogOutput()

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logging.SetLogLevel(level)

	if grokLogin {
		if err = cmd.DoGrokLogin(cfg, nil); err != nil {
			log.Errorf("grok login failed: %v", err)
			os.Exit(1)
		}
		return
	}

	log.Infof("Grok2API Version: %s, Commit: %s", Version, Commit)
	if err = cmd.StartService(cfg, configPath, Version); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}
