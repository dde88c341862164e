// cmd/vitalsd/wire.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tamzrod/vitals-relay/internal/config"
	"github.com/tamzrod/vitals-relay/internal/live"
	"github.com/tamzrod/vitals-relay/internal/live/mqtt"
	"github.com/tamzrod/vitals-relay/internal/orchestrator"
	"github.com/tamzrod/vitals-relay/internal/permission"
	"github.com/tamzrod/vitals-relay/internal/poller"
	"github.com/tamzrod/vitals-relay/internal/preference"
)

// --------------------
// Load + validate + normalize
// --------------------

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// openPreferences returns the persisted port, or an in-memory one when no
// path is configured.
func openPreferences(v config.VitalsConfig) (preference.Port, func() error, error) {
	if v.Preferences.Path == "" {
		return preference.NewMemory(), func() error { return nil }, nil
	}
	db, err := preference.OpenSQLite(v.Preferences.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func buildPermissions(v config.VitalsConfig, log *slog.Logger) (*permission.Store, *permission.DeltaPublisher, error) {
	gw, err := permission.NewFileGateway(v.Permissions.GrantsFile, v.Permissions.AutoApprove)
	if err != nil {
		return nil, nil, err
	}
	deltas := permission.NewDeltaPublisher()
	store := permission.NewStore(gw, deltas, permission.StoreOptions{
		Logger:         log,
		RefreshTimeout: config.Ms(v.Permissions.QueryTimeoutMs),
	})
	return store, deltas, nil
}

func buildLive(v config.VitalsConfig, log *slog.Logger) (orchestrator.LiveChannel, error) {
	if !v.Live.Enabled {
		return nil, nil
	}
	src, err := mqtt.New(mqtt.Config{
		Broker:         v.Live.Broker,
		ClientID:       v.Live.ClientID,
		TopicPrefix:    v.Live.TopicPrefix,
		QoS:            v.Live.QoS,
		ConnectTimeout: config.Ms(v.Live.ConnectTimeoutMs),
		BufferSize:     v.Live.BufferSize,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return live.NewChannel(src, config.Ms(v.CloseTimeoutMs), log), nil
}

// --------------------
// Daemon
// --------------------

type daemon struct {
	cfg     *config.Config
	prefs   preference.Port
	store   *permission.Store
	deltas  *permission.DeltaPublisher
	watcher *permission.Watcher
	orch    *orchestrator.Orchestrator

	closePrefs func() error
}

func buildDaemon(cfg *config.Config, log *slog.Logger) (*daemon, error) {
	v := cfg.Vitals
	required := v.Required()

	prefs, closePrefs, err := openPreferences(v)
	if err != nil {
		return nil, err
	}

	rt := &daemon{cfg: cfg, prefs: prefs, closePrefs: closePrefs}

	rt.store, rt.deltas, err = buildPermissions(v, log)
	if err != nil {
		_ = closePrefs()
		return nil, err
	}

	pollCh, err := poller.Build(v, log)
	if err != nil {
		_ = closePrefs()
		return nil, fmt.Errorf("poller build failed: %w", err)
	}

	liveCh, err := buildLive(v, log)
	if err != nil {
		_ = closePrefs()
		return nil, fmt.Errorf("live source build failed: %w", err)
	}

	rt.orch, err = orchestrator.New(orchestrator.Options{
		Store:                rt.store,
		Deltas:               rt.deltas,
		Prefs:                prefs,
		Live:                 liveCh,
		Poll:                 pollCh,
		Required:             required,
		PreferPollingDefault: v.PreferPollingDefault,
		Logger:               log,
	})
	if err != nil {
		_ = closePrefs()
		return nil, err
	}

	rt.watcher, err = permission.NewWatcher(rt.store, required, config.Ms(v.Permissions.RefreshIntervalMs), log)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}

	return rt, nil
}

func (rt *daemon) Close(ctx context.Context) error {
	var errs []error
	if rt.orch != nil {
		errs = append(errs, rt.orch.Close(ctx))
	}
	if rt.deltas != nil {
		rt.deltas.Close()
	}
	if rt.closePrefs != nil {
		errs = append(errs, rt.closePrefs())
	}
	return errors.Join(errs...)
}
