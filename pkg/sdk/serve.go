// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sdk

import (
	"errors"
	"fmt"
	"net/rpc"
	"os"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

var (
	ErrNotInitialized = errors.New("plugin was not initialized")
	ErrNoChat         = errors.New("no chat client available")
)

// PluginV1 is a contract v1 plugin. Init is optional.
type PluginV1 struct {
	Format    string
	Init      func() error
	Transform func(body []byte) (*LegacyMessage, error)
}

// PluginV2 is a contract v2 plugin instance. A nil message from Transform
// declines the webhook.
type PluginV2 interface {
	Init() error
	Transform(req *Request) (*webhook.Message, error)
}

// ConstructorV2 builds a contract v2 plugin. It runs in the plugin process
// once the gateway has accepted the plugin's description.
type ConstructorV2 func(log hclog.Logger, chat ChatClient) PluginV2

// ServeV1 runs p until the gateway kills the process.
func ServeV1(p PluginV1) {
	log := newPluginLogger(p.Format)
	serve(newV1Server(p, log), log)
}

// ServeV2 runs the plugin built by newPlugin until the gateway kills the
// process.
func ServeV2(format string, newPlugin ConstructorV2) {
	log := newPluginLogger(format)
	serve(newV2Server(format, newPlugin, log), log)
}

func newPluginLogger(format string) hclog.Logger {
	// go-plugin parses JSON lines on stderr and relays them to the gateway.
	return hclog.New(&hclog.LoggerOptions{
		Name:       format,
		Level:      hclog.Trace,
		Output:     os.Stderr,
		JSONFormat: true,
	})
}

func serve(server *rpcServer, log hclog.Logger) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         plugin.PluginSet{PluginName: &webhookPlugin{server: server}},
		Logger:          log,
	})
}

func newV1Server(p PluginV1, log hclog.Logger) *rpcServer {
	return &rpcServer{
		log: log,
		desc: Description{
			Format:       p.Format,
			Contracts:    []ContractVersion{ContractV1},
			HasInit:      p.Init != nil,
			HasTransform: p.Transform != nil,
		},
		v1: &p,
	}
}

func newV2Server(format string, newPlugin ConstructorV2, log hclog.Logger) *rpcServer {
	return &rpcServer{
		log: log,
		desc: Description{
			Format:         format,
			Contracts:      []ContractVersion{ContractV2},
			HasConstructor: newPlugin != nil,
			HasInit:        newPlugin != nil,
			HasTransform:   newPlugin != nil,
		},
		newV2: newPlugin,
	}
}

// webhookPlugin is the go-plugin glue. The server field is only set inside
// the plugin process.
type webhookPlugin struct {
	server *rpcServer
}

var _ plugin.Plugin = (*webhookPlugin)(nil)

func (p *webhookPlugin) Server(broker *plugin.MuxBroker) (any, error) {
	if p.server == nil {
		return nil, fmt.Errorf("no plugin implementation to serve")
	}
	p.server.broker = broker
	return p.server, nil
}

func (p *webhookPlugin) Client(broker *plugin.MuxBroker, client *rpc.Client) (any, error) {
	return &Client{client: client, broker: broker}, nil
}

type InitArgs struct {
	ChatBrokerID uint32
}

type TransformArgs struct {
	Body  []byte
	Emoji bool
}

type TransformReply struct {
	Message *webhook.Message
}

// rpcServer is the plugin side of the connection. Every method recovers
// panics so a broken plugin reports an error instead of dropping the
// connection.
type rpcServer struct {
	log    hclog.Logger
	desc   Description
	broker *plugin.MuxBroker

	v1    *PluginV1
	newV2 ConstructorV2

	lock sync.RWMutex
	v2   PluginV2
	chat *rpc.Client
}

func recoverInto(err *error, log hclog.Logger, op string) {
	if p := recover(); p != nil {
		log.Error("Plugin panicked", "op", op, "panic", p, "stack", string(debug.Stack()))
		*err = fmt.Errorf("plugin panicked during %s: %v", op, p)
	}
}

func (s *rpcServer) Describe(_ bool, reply *Description) error {
	*reply = s.desc
	return nil
}

func (s *rpcServer) Init(args InitArgs, _ *bool) (err error) {
	defer recoverInto(&err, s.log, "init")
	if s.v1 != nil {
		if s.v1.Init != nil {
			return s.v1.Init()
		}
		return nil
	}
	if s.newV2 == nil {
		return fmt.Errorf("plugin has no constructor")
	}
	var chat ChatClient = noChat{}
	var chatConn *rpc.Client
	if args.ChatBrokerID != 0 && s.broker != nil {
		conn, err := s.broker.Dial(args.ChatBrokerID)
		if err != nil {
			return fmt.Errorf("failed to dial chat client: %w", err)
		}
		chatConn = rpc.NewClient(conn)
		chat = &chatRPCClient{client: chatConn}
	}
	instance := s.newV2(s.log, chat)
	if instance == nil {
		return fmt.Errorf("plugin constructor returned nil")
	}
	if err = instance.Init(); err != nil {
		if chatConn != nil {
			_ = chatConn.Close()
		}
		return err
	}
	s.lock.Lock()
	old := s.chat
	s.v2, s.chat = instance, chatConn
	s.lock.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *rpcServer) Transform(args TransformArgs, reply *TransformReply) (err error) {
	defer recoverInto(&err, s.log, "transform")
	if s.v1 != nil {
		if s.v1.Transform == nil {
			return fmt.Errorf("plugin has no transform")
		}
		msg, err := s.v1.Transform(args.Body)
		if err != nil {
			return err
		}
		reply.Message = msg.Message()
		return nil
	}
	s.lock.RLock()
	instance := s.v2
	s.lock.RUnlock()
	if instance == nil {
		return ErrNotInitialized
	}
	msg, err := instance.Transform(&Request{Body: args.Body, Emoji: args.Emoji})
	if err != nil {
		return err
	}
	reply.Message = msg
	return nil
}
