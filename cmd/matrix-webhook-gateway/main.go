// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrix-webhook-gateway receives webhooks over HTTP and posts them
// into Matrix rooms as application service users.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/geluk/matrix-webhook-gateway/pkg/bridge"
	"github.com/geluk/matrix-webhook-gateway/pkg/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const Name = "matrix-webhook-gateway"

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var writeExampleConfig = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var dontSaveConfig = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var registrationPath = flag.MakeFull("r", "registration", "The path where to save the appservice registration.", "registration.yaml").String()
var generateRegistration = flag.MakeFull("g", "generate-registration", "Generate registration and quit.", "false").Bool()
var clearPluginCache = flag.Make().LongKey("clear-plugin-cache").Usage("Remove every compiled plugin before loading plugins.").Default("false").Bool()
var noAutoMigrate = flag.Make().LongKey("no-auto-migrate").Usage("Refuse to start when the database needs upgrading instead of upgrading it.").Default("false").Bool()
var version = flag.MakeFull("v", "version", "View gateway version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		fmt.Sprintf("%s - Matrix webhook gateway", Name),
		fmt.Sprintf("%s [-hgev] [-c <path>] [-r <path>] [--clear-plugin-cache] [--no-auto-migrate]", Name),
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("%s %s (%s, built at %s)\n", Name, Tag, Commit, BuildTime)
		return
	}

	if *writeExampleConfig {
		if err := os.WriteFile(*configPath, []byte(config.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(10)
		}
		fmt.Println("Wrote example config to", *configPath)
		return
	}

	cfg, err := config.Load(*configPath, !*dontSaveConfig)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}

	if *generateRegistration {
		if err = writeRegistration(cfg); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to generate registration:", err)
			os.Exit(20)
		}
		fmt.Println("Registration generated. See https://docs.mau.fi/bridges/general/registering-appservices.html for instructions on installing the registration.")
		return
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(11)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing matrix-webhook-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := NewGateway(ctx, cfg, Options{
		ClearPluginCache: *clearPluginCache,
		NoAutoMigrate:    *noAutoMigrate,
	}, *log)
	if err != nil {
		log.Err(err).Msg("Failed to initialize gateway")
		os.Exit(errorExitCode(err))
	}
	if err = gw.Run(ctx); err != nil {
		log.Err(err).Msg("Gateway stopped with an error")
		os.Exit(30)
	}
	log.Info().Msg("Gateway stopped")
}

func errorExitCode(err error) int {
	if errors.Is(err, ErrPendingUpgrades) {
		return 13
	}
	return 12
}

func writeRegistration(cfg *config.Config) error {
	reg := bridge.NewRegistration(cfg.AppService.ID, cfg.AppService.Address, cfg.Homeserver.Domain)
	if err := reg.Save(*registrationPath); err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	if err := config.SaveTokens(*configPath, reg.AppToken, reg.ServerToken); err != nil {
		return fmt.Errorf("failed to save tokens to config: %w", err)
	}
	return nil
}
