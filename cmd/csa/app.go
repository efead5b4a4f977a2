// Copyright 2025 The CSA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/csa-project/csa/config"
	"github.com/csa-project/csa/pkg/logging"
	"github.com/csa-project/csa/pkg/metrics"
	"github.com/csa-project/csa/pkg/resolver"
	"github.com/csa-project/csa/pkg/session"
	"github.com/csa-project/csa/pkg/slot"
)

// app bundles the services every subcommand composes, built once from
// global flags and the loaded configuration.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *session.Store
	resolver resolver.Config
	rotator  *resolver.Rotator
	slots    *slot.Manager
	metrics  *metrics.Metrics
	closeLog func()
}

// newApp loads configuration (file, or a clustered backend when
// --config-source names one), applies global-flag overrides, initializes
// logging, and opens the session store rooted at the resolved state root.
func newApp(cli *CLI) (*app, error) {
	sourceType, err := config.ParseSourceType(cli.ConfigSource)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoaderOptions{
		Type:      sourceType,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	})
	if err != nil {
		return nil, err
	}
	if cli.StateRoot != "" {
		cfg.Global.StateRoot = cli.StateRoot
	}
	if cli.LogLevel != "" {
		cfg.Global.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Global.LogFormat = cli.LogFormat
	}

	level, err := logging.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}

	out := os.Stderr
	var closeLog func()
	if cli.LogFile != "" {
		f, cleanup, ferr := logging.OpenLogFile(cli.LogFile)
		if ferr != nil {
			return nil, fmt.Errorf("open log file: %w", ferr)
		}
		out = f
		closeLog = cleanup
	}
	logging.Init(level, out, cfg.Global.LogFormat)
	log := logging.GetLogger()

	store, err := session.NewStore(cfg.Global.StateRoot, log)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	resolverCfg, err := cfg.ResolverConfig()
	if err != nil {
		return nil, fmt.Errorf("build resolver config: %w", err)
	}

	if cli.MetricsAddr != "" {
		cfg.Global.MetricsAddr = cli.MetricsAddr
	}
	m := metrics.New()
	if cfg.Global.MetricsAddr != "" {
		go func() {
			if err := m.Serve(cfg.Global.MetricsAddr); err != nil {
				log.Warn("metrics endpoint failed", "addr", cfg.Global.MetricsAddr, "error", err)
			}
		}()
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		resolver: resolverCfg,
		rotator:  resolver.NewRotator(cfg.Global.StateRoot),
		slots:    slot.NewManager(cfg.Global.StateRoot),
		metrics:  m,
		closeLog: closeLog,
	}, nil
}

func (a *app) Close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}
