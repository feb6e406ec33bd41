package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/svoop/postwhite"
)

func main() {
	configDir := flag.String("config-dir", ".", "directory holding config.yml, recipients.yml and messages.yml")
	flag.Parse()

	cfg, err := postwhite.LoadConfig(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	setupLogging(cfg)

	registry, err := postwhite.LoadRegistry(cfg.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("loading recipients.yml")
	}
	templates, err := postwhite.LoadTemplates(cfg.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("loading messages.yml")
	}

	store := postwhite.NewFileStore(cfg.ConfigDir)
	spool := postwhite.NewFileSpool(cfg.SpoolDir, cfg.LearningPeriod)
	engine := postwhite.NewEngine(registry, store, spool, templates, cfg)
	mailer := postwhite.NewMailer(fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort))
	server := postwhite.NewServer(engine, templates, mailer, cfg)

	cfg.Watch(func(c *postwhite.Config) {
		log.Info().Msg("config.yml reloaded")
		server.ReconsiderLimit()
	})

	watcher, err := watchAuxFiles(cfg.ConfigDir, engine, server)
	if err != nil {
		log.Fatal().Err(err).Msg("watching recipients.yml and messages.yml")
	}
	defer watcher.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("binding policy socket")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, shutdown := context.WithCancel(context.Background())
	done := make(chan error, 1)

	log.Info().Str("addr", addr).Msg("starting policy server")
	go func() { done <- server.Serve(ctx, l) }()

	select {
	case <-sigs:
		log.Info().Msg("received signal, shutting down")
		shutdown()
		<-done
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("policy server exited")
		}
	}
}

// watchAuxFiles watches configDir for edits to recipients.yml and
// messages.yml and hot-swaps them into engine/server, the same restart-free
// treatment config.yml already gets through viper's watcher. Neither file
// has a viper.Viper of its own (they're decoded once into typed structs via
// yaml.v2), so they need their own fsnotify watch instead of riding
// viper's.
func watchAuxFiles(configDir string, engine *postwhite.Engine, server *postwhite.Server) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", configDir, err)
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case "recipients.yml":
				registry, err := postwhite.LoadRegistry(configDir)
				if err != nil {
					log.Warn().Err(err).Msg("reloading recipients.yml, keeping previous registry")
					continue
				}
				engine.SetRegistry(registry)
				log.Info().Msg("recipients.yml reloaded")
			case "messages.yml":
				templates, err := postwhite.LoadTemplates(configDir)
				if err != nil {
					log.Warn().Err(err).Msg("reloading messages.yml, keeping previous templates")
					continue
				}
				server.SetTemplates(templates)
				log.Info().Msg("messages.yml reloaded")
			}
		}
	}()

	return watcher, nil
}

func setupLogging(cfg *postwhite.Config) {
	if cfg.LogFile == "" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		return
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		log.Warn().Err(err).Str("log-file", cfg.LogFile).Msg("falling back to stderr")
		return
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
}
