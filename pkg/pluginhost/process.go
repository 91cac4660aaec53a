// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pluginhost

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
)

// Loader starts compiled plugins.
type Loader interface {
	Load(ctx context.Context, artifact Artifact) (Instance, error)
}

// ProcessLoader starts each plugin as a child process and talks to it over
// go-plugin's net/rpc transport.
type ProcessLoader struct {
	Log          zerolog.Logger
	StartTimeout time.Duration
}

type processInstance struct {
	*sdk.Client
	process *plugin.Client
}

func (p *processInstance) Kill() {
	p.process.Kill()
}

func (l *ProcessLoader) Load(ctx context.Context, artifact Artifact) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := l.Log.With().Str("component", "plugin_process").Str("artifact", artifact.Key[:12]).Logger()
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  sdk.Handshake,
		Plugins:          sdk.PluginSet(),
		Cmd:              exec.Command(artifact.Path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		StartTimeout:     l.StartTimeout,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:        "plugin",
			Level:       hclog.Debug,
			Output:      exzerolog.NewLogWriter(log).WithLevel(zerolog.DebugLevel),
			DisableTime: true,
		}),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}
	raw, err := rpcClient.Dispense(sdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}
	if err = rpcClient.Ping(); err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin did not answer ping: %w", err)
	}
	sdkClient, ok := raw.(*sdk.Client)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin client type %T", raw)
	}
	return &processInstance{Client: sdkClient, process: client}, nil
}
