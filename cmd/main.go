package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charm "github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/gommon/log"

	"talehopper/pkg/config"
	"talehopper/pkg/feedback"
	"talehopper/pkg/inference"
	"talehopper/pkg/queue/mail"
	"talehopper/pkg/server"
	"talehopper/pkg/story"
	"talehopper/pkg/utils"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := charm.NewWithOptions(os.Stderr, charm.Options{
		ReportTimestamp: true,
		Level:           cfg.Level(),
	})
	charm.SetDefault(logger)

	opts := cfg.Inference()
	inf, err := inference.New(ctx, opts)
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("Using %s backend (model %q)", opts.Method, opts.Model)

	gen := story.NewGenerator(inf, logger.WithPrefix("story"))
	gen.Structured = cfg.Structured
	if cfg.TokenModel != "" {
		gen.CountTokens = utils.TokenCounter(cfg.TokenModel)
	}

	sender := feedback.NewSender(cfg.SMTP(), logger)
	fq := mail.New(sender, cfg.FeedbackQueueSize, 30*time.Second, logger)
	fq.Start()

	srv := server.NewServer(gen, fq, server.Options{
		Origins:         cfg.Origins(),
		SessionTTL:      cfg.SessionTTL,
		MaxSessions:     cfg.MaxSessions,
		GenerateTimeout: cfg.LLMTimeout + 30*time.Second,
		Logger:          logger.WithPrefix("http"),
	})
	if cfg.Level() == charm.DebugLevel {
		srv.Echo.Logger.SetLevel(log.DEBUG)
	}

	finishedShutDown := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err)
		}
		fq.Stop()
		close(finishedShutDown)
	}()

	if err := srv.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err)
		done()
	}
	<-finishedShutDown
}
