// Copyright 2024-2026 Aiku AI

package config

import (
	"fmt"

	up "go.mau.fi/util/configupgrade"
)

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")

	helper.Copy(up.Str, "appservice", "address")
	helper.Copy(up.Str, "appservice", "hostname")
	helper.Copy(up.Int, "appservice", "port")
	helper.Copy(up.Str, "appservice", "id")
	helper.Copy(up.Str, "appservice", "as_token")
	helper.Copy(up.Str, "appservice", "hs_token")

	helper.Copy(up.Str, "webhooks", "listen_host")
	helper.Copy(up.Int, "webhooks", "listen_port")
	helper.Copy(up.Str, "webhooks", "public_url")
	helper.Copy(up.Bool, "webhooks", "log_to_database")
	helper.Copy(up.Int, "webhooks", "max_body_size")
	helper.Copy(up.Int, "webhooks", "rate_limit", "requests")
	helper.Copy(up.Str, "webhooks", "rate_limit", "window")
	helper.Copy(up.Str, "webhooks", "displayname_template")

	helper.Copy(up.Bool, "plugins", "enabled")
	helper.Copy(up.Str, "plugins", "directory")
	helper.Copy(up.Str, "plugins", "cache_directory")
	helper.Copy(up.Str, "plugins", "compile_command")
	helper.Copy(up.Int, "plugins", "compile_workers")
	helper.Copy(up.Bool, "plugins", "watch")
	helper.Copy(up.Str, "plugins", "debounce")
	helper.Copy(up.Str, "plugins", "apply_timeout")

	helper.Copy(up.Str, "images", "fetch_timeout")
	helper.Copy(up.Str, "images", "user_agent")

	helper.Copy(up.Str, "admin_api", "address")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "conn_max_idle_time")
	helper.Copy(up.Str|up.Null, "database", "conn_max_lifetime")

	helper.Copy(up.Map, "logging")
}

// Upgrader fills in fields missing from a config file with the defaults
// from the example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: upgradeConfig,
	Blocks: [][]string{
		{"appservice"},
		{"webhooks"},
		{"plugins"},
		{"images"},
		{"admin_api"},
		{"database"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load reads the config at path, merges it over the example config and
// parses the result. With save set, the merged file is written back.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// SaveTokens writes freshly generated appservice tokens into the config
// file at path.
func SaveTokens(path, asToken, hsToken string) error {
	_, _, err := up.Do(path, true, Upgrader, up.SimpleUpgrader(func(helper up.Helper) {
		helper.Set(up.Str, asToken, "appservice", "as_token")
		helper.Set(up.Str, hsToken, "appservice", "hs_token")
	}))
	if err != nil {
		return fmt.Errorf("failed to save appservice tokens: %w", err)
	}
	return nil
}
