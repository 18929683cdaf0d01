package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tellolink/config"
	"tellolink/engine"
	"tellolink/messaging"
	"tellolink/statecache"
	"tellolink/store"
	"tellolink/transport"
	"tellolink/www"
)

// replyLinger keeps the link open briefly after a one-shot sequence so
// replies to trailing queries are still logged.
const replyLinger = time.Second

func main() {
	configPath := flag.String("config", "tellolink.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [command ...]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "With commands, runs them in order after init and exits.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, *configPath, *debug, *port, flag.Args())
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// run starts the link and blocks until ctx ends or, with commands, until
// they have been sent.
func run(ctx context.Context, configPath string, debug bool, port int, commands []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	debug = debug || cfg.Debug
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if port > 0 {
		cfg.Web.Port = port
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	db, err := store.OpenWith(cfg.DatabasePath, store.Options{CommandRetention: cfg.CommandRetention})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if db.Abandoned > 0 || db.Pruned > 0 {
		log.Printf("command log: %d unresolved from last run marked abandoned, %d old entries pruned", db.Abandoned, db.Pruned)
	}

	// Optional telemetry cache
	var cache engine.StateCache
	if cfg.Redis.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := statecache.Dial(dialCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.Printf("%v (continuing without cache)", err)
		} else {
			cache = rs
			defer rs.Close()
			defer rs.Clear(context.Background(), cfg.NodeID)
		}
	}

	// Command link
	cmdConn := transport.New(cfg.Drone.LocalPort, cfg.CommandAddr())
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Transport: cmdConn,
		DB:        db,
		Cache:     cache,
		LogFunc:   log.Printf,
		Debug:     debug,
	})
	cmdConn.OnMessage(eng.HandleMessage)
	if err := cmdConn.Open(); err != nil {
		return err
	}
	defer cmdConn.Close()

	// Telemetry link
	if cfg.Drone.StateEnabled {
		stateConn := transport.New(cfg.Drone.StatePort, "")
		stateConn.OnMessage(eng.HandleState)
		if err := stateConn.Open(); err != nil {
			log.Printf("state port unavailable, telemetry disabled: %v", err)
		} else {
			defer stateConn.Close()
		}
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	// One-shot mode
	if len(commands) > 0 {
		if err := eng.RunSequence(ctx, commands); err != nil {
			return err
		}
		log.Printf("sequence of %d commands complete", len(commands))
		// Query answers arrive after the query itself resolves.
		select {
		case <-ctx.Done():
		case <-time.After(replyLinger):
		}
		return nil
	}

	if cfg.Messaging.Enabled {
		msgClient := messaging.NewClient(&cfg.Messaging, cfg.ClientID())
		defer msgClient.Close()
		if will, err := messaging.OfflineStatus(cfg.NodeID); err == nil {
			msgClient.SetLastWill(cfg.Messaging.EventTopic, will)
		}
		if err := msgClient.Connect(); err != nil {
			log.Printf("messaging connect: %v (events stay in the outbox)", err)
		}

		reporter := messaging.NewEventReporter(db, eng.Events, cfg.NodeID, cfg.Messaging.EventTopic)
		if err := reporter.Start(); err != nil {
			return fmt.Errorf("start event reporter: %w", err)
		}
		defer reporter.Stop()

		drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
		drainer.Start()
		defer drainer.Stop()

		handler := messaging.NewDroneHandler(eng)
		handler.Start()
		defer handler.Stop()
		sub := messaging.NewSubscriber(msgClient, cfg.Messaging.CommandTopic, cfg.NodeID, handler)
		if err := sub.Start(); err != nil {
			log.Printf("messaging subscribe: %v", err)
		} else {
			log.Printf("listening for requests on %s (node=%s)", cfg.Messaging.CommandTopic, cfg.NodeID)
		}

		hb := messaging.NewHeartbeater(msgClient, eng, cfg.NodeID, cfg.Messaging.EventTopic, cfg.Messaging.HeartbeatInterval)
		hb.Start()
		defer hb.Stop()
	}

	var server *http.Server
	stopWeb := func() {}
	if cfg.Web.Enabled {
		var router http.Handler
		router, stopWeb = www.NewRouter(eng)

		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = &http.Server{Addr: addr, Handler: router}
		go func() {
			log.Printf("tellolink listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http server shutdown: %v", err)
		}
	}
	return nil
}
