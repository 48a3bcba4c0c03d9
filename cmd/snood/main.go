// Command snood connects to the Happiest Baby cloud, streams realtime
// bassinet activity and exposes the session to the local token cache so
// restarts do not need a fresh login.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trymwestin/snoo/internal/config"
	"github.com/trymwestin/snoo/internal/core/auth"
	"github.com/trymwestin/snoo/internal/core/client"
	"github.com/trymwestin/snoo/internal/core/model"
	"github.com/trymwestin/snoo/internal/core/realtime"
	"github.com/trymwestin/snoo/internal/tokencache"
	"github.com/trymwestin/snoo/internal/transport"
	"github.com/trymwestin/snoo/internal/transport/mqtttransport"
	"github.com/trymwestin/snoo/internal/transport/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	history := flag.Int("history", 0, "print the last N activity reports on startup")
	flag.Parse()

	if err := run(*configPath, *history); err != nil {
		fmt.Fprintln(os.Stderr, "snood:", err)
		os.Exit(1)
	}
}

func run(configPath string, historyCount int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := tokencache.New(cfg.Session.Path)
	updater := cache.Updater(func(err error) {
		log.Warn("failed to persist token", "error", err)
	})

	session := auth.NewSession(cfg.Snoo.APIBase, updater, log)

	if tok, ok, err := cache.Load(); err != nil {
		log.Warn("ignoring unreadable token cache", "error", err)
	} else if ok {
		session.SetToken(tok)
		log.Info("resumed session from token cache", "expires_at", tok.ExpiresAt)
	}

	if !session.Authorized() {
		if cfg.Snoo.Username == "" || cfg.Snoo.Password == "" {
			return errors.New("no cached session and no credentials configured")
		}
		if _, err := session.Login(ctx, cfg.Snoo.Username, cfg.Snoo.Password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		log.Info("logged in", "username", cfg.Snoo.Username)
	}

	api := client.New(session, log)

	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	log.Info("account", "email", me.Email, "name", me.GivenName, "region", me.Region)

	serial := cfg.Snoo.Serial
	if serial == "" {
		devices, err := api.GetDevices(ctx)
		if err != nil {
			return fmt.Errorf("fetch devices: %w", err)
		}
		if len(devices) == 0 {
			return errors.New("account has no registered devices")
		}
		serial = devices[0].SerialNumber
		log.Info("using first registered device", "serial", serial)
	}

	if baby, err := api.GetBaby(ctx); err != nil {
		log.Warn("failed to fetch baby profile", "error", err)
	} else {
		log.Info("baby profile",
			"name", baby.BabyName,
			"responsiveness", baby.Settings.ResponsivenessLevel,
			"weaning", baby.Settings.Weaning,
		)
	}

	tr, err := buildTransport(cfg, session, log)
	if err != nil {
		return err
	}

	mgr := realtime.NewManager(session, serial, tr, log)
	defer mgr.Close()

	mgr.AddListener(func(state model.ActivityState) {
		log.Info("activity",
			"event", state.Event,
			"state", state.StateMachine.State,
			"active_session", state.StateMachine.IsActiveSession,
			"event_time", state.EventTime,
		)
	})
	mgr.AddConnectionListener(func(connected bool) {
		log.Info("realtime connection changed", "connected", connected)
	})

	subCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgr.SubscribeAndWait(subCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info("subscribed to device activity", "serial", serial)

	if historyCount > 0 {
		states, err := mgr.History(ctx, historyCount)
		if errors.Is(err, transport.ErrHistoryUnsupported) {
			log.Warn("history not available on this transport")
		} else if err != nil {
			log.Warn("history fetch failed", "error", err)
		} else {
			for _, st := range states {
				log.Info("past activity", "event", st.Event, "state", st.StateMachine.State, "event_time", st.EventTime)
			}
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.UnsubscribeAndWait(unsubCtx); err != nil {
		log.Warn("unsubscribe on shutdown failed", "error", err)
	}
	return nil
}

func buildTransport(cfg config.Config, session *auth.Session, log *slog.Logger) (transport.Transport, error) {
	tok, ok := session.CurrentToken()
	if !ok {
		return nil, auth.ErrNotAuthenticated
	}

	switch cfg.Realtime.Transport {
	case "mqtt":
		return mqtttransport.New(mqtttransport.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
		}, tok.AccessToken, log), nil
	default:
		url := cfg.Realtime.URL
		if url == "" {
			url = "wss://realtime.happiestbaby.com/v1"
		}
		return wstransport.New(wstransport.Config{URL: url}, tok.AccessToken, log), nil
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
