package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"schemakeeper/internal/config"
	"schemakeeper/internal/rest"
	"schemakeeper/internal/schema"
	"schemakeeper/internal/store"
)

type server struct {
	cfg          config.Config
	js           nats.JetStreamContext
	kvSchemas    nats.KeyValue
	kvConfig     nats.KeyValue
	http         *http.Server
	natsServer   *natsd.Server
	embeddedNATS bool
}

func main() {
	cfg := config.Default()
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to TOML config file")
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	// Flags given on the command line win over the file, so re-apply them
	// after the overlay.
	set := map[string]string{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	if err := cfg.LoadFile(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for name, value := range set {
		flag.Set(name, value)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting schema registry server", "config", cfg)

	srv := &server{cfg: cfg}

	registry, err := srv.buildRegistry()
	if err != nil {
		slog.Error("Failed to set up storage", "error", err)
		slog.Warn("Continuing with in-memory storage; registered schemas will not survive a restart")
		mem := store.NewMemory()
		registry = schema.New(mem, mem, mem)
	}

	srv.http = &http.Server{Addr: cfg.HTTPAddr, Handler: rest.New(registry).Router()}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(5 * time.Second)
}

// buildRegistry connects to NATS and assembles the registry over JetStream
// KV buckets. In test mode a failed connection starts an embedded server.
func (s *server) buildRegistry() (*schema.Registry, error) {
	if err := s.setupNATS(); err != nil {
		return nil, err
	}
	schemas := store.NewNATSKV(s.kvSchemas)
	configs := store.NewNATSConfig(s.kvConfig)
	return schema.New(schemas, configs, schemas), nil
}

func (s *server) setupNATS() error {
	slog.Debug("Connecting to NATS", "url", s.cfg.NATSURL)

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("Schema Registry"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)

	if err != nil && s.cfg.TestMode {
		slog.Info("Failed to connect to external NATS server, starting embedded server")
		if err := s.startEmbeddedNATS(); err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		nc, err = nats.Connect(s.natsServer.ClientURL(),
			nats.Name("Schema Registry"),
			nats.Timeout(5*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("Connected to NATS")

	s.js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		slog.Debug("Setting up schema bucket", "name", s.cfg.SchemaBucket, "attempt", i+1)
		if s.kvSchemas, err = s.makeBucket(s.cfg.SchemaBucket, "Schema records"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create schema bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	for i := 0; i < maxRetries; i++ {
		slog.Debug("Setting up config bucket", "name", s.cfg.ConfigBucket, "attempt", i+1)
		if s.kvConfig, err = s.makeBucket(s.cfg.ConfigBucket, "Compatibility config"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create config bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	slog.Info("NATS setup completed successfully")
	return nil
}

func (s *server) startEmbeddedNATS() error {
	tmpDir, err := os.MkdirTemp("", "nats-data-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	opts := &natsd.Options{
		JetStream:  true,
		Port:       4222,
		Host:       "127.0.0.1",
		StoreDir:   tmpDir,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := natsd.NewServer(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("embedded NATS server failed to start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !ns.JetStreamEnabled() {
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("JetStream failed to start")
	}

	slog.Info("Embedded NATS server started")
	s.natsServer = ns
	s.embeddedNATS = true
	return nil
}

func (s *server) makeBucket(name, desc string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(name)
	if err == nats.ErrBucketNotFound {
		slog.Debug("Bucket not found, creating", "name", name)
		return s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
		})
	}
	return kv, err
}

func (s *server) gracefulShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Shutting down server...")
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	if s.embeddedNATS && s.natsServer != nil {
		slog.Info("Shutting down embedded NATS server")
		s.natsServer.Shutdown()
	}
}
