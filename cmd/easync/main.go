// Package main is the example host binary: it wires the example
// Config/Transport/Store/opstate collaborators to internal/sync's
// Driver and runs one Sync exchange per configured collection. It
// exists to exercise the engine end to end, not as a production EAS
// client — a real device would add retry/backoff scheduling, Ping-
// driven long polling (internal/eas/ping), and FolderSync-driven
// collection discovery (internal/eas/folderhierarchy) around the same
// Driver.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/easync/internal/buildinfo"
	"github.com/nugget/easync/internal/calendar"
	"github.com/nugget/easync/internal/config"
	"github.com/nugget/easync/internal/contacts"
	"github.com/nugget/easync/internal/email"
	"github.com/nugget/easync/internal/opstate"
	"github.com/nugget/easync/internal/store"
	"github.com/nugget/easync/internal/sync"
	"github.com/nugget/easync/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	if err := run(logger, *configPath); err != nil {
		logger.Error("easync: fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if level, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	if !cfg.Server.Configured() {
		return fmt.Errorf("server.endpoint/username/password must be set")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	keys, err := opstate.NewStore(filepath.Join(cfg.DataDir, "opstate.db"))
	if err != nil {
		return fmt.Errorf("opstate: %w", err)
	}
	defer keys.Close()

	dataStore, err := store.NewStore(filepath.Join(cfg.DataDir, "easync.db"), logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer dataStore.Close()

	dataStore.RegisterCollection("Email", jsonDecoder[*email.Message]())
	dataStore.RegisterCollection("Contacts", jsonDecoder[*contacts.Record]())
	dataStore.RegisterCollection("Calendar", jsonDecoder[*calendar.Event]())

	tp := transport.New(transport.Config{
		Endpoint:   cfg.Server.Endpoint,
		DeviceID:   cfg.Server.DeviceID,
		DeviceType: cfg.Server.DeviceType,
	}, logger)

	driver := sync.New(tp, dataStore, keys,
		email.NewCodec(),
		contacts.NewCodec(),
		calendar.NewCodec(),
	).WithLogger(logger)

	ctx := context.Background()
	for _, colCfg := range cfg.Collections {
		syncKey, err := keys.Get("synckey", colCfg.ServerID)
		if err != nil {
			logger.Warn("easync: failed to read sync key, starting from 0",
				slog.String("collection", colCfg.ServerID), slog.Any("error", err))
			syncKey = "0"
		}
		if syncKey == "" {
			syncKey = "0"
		}

		col := sync.Collection{
			ServerID:   colCfg.ServerID,
			Class:      colCfg.Class,
			SyncKey:    syncKey,
			WindowSize: colCfg.WindowSize,
			GetChanges: syncKey != "0",
		}

		batch, err := driver.RunOnce(ctx, col)
		if err != nil {
			logger.Error("easync: sync failed", slog.String("class", colCfg.Class), slog.Any("error", err))
			continue
		}
		logger.Info("easync: sync complete",
			slog.String("class", colCfg.Class),
			slog.Int("entries", len(batch.Entries)),
			slog.Bool("more", batch.MoreAvailable))
	}

	return nil
}

// jsonDecoder builds a store.RecordDecoder for a collection whose
// records round-trip through JSON, which is how internal/store
// persists every collection's opaque record blob.
func jsonDecoder[T any]() store.RecordDecoder {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
