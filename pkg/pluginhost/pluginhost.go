// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pluginhost finds, compiles, starts and validates webhook plugins,
// and keeps a registry of the ones that are ready to serve requests.
//
// Plugins are single Go source files in the plugin directory. Each file is
// compiled once per distinct source text into a content addressed cache,
// started as a separate process, and registered under the identifier the
// plugin reports. Reloading a file replaces the registry entry atomically;
// requests that already hold the previous descriptor finish on it before its
// process is stopped.
package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

var (
	ErrCompile         = errors.New("plugin compilation failed")
	ErrLoad            = errors.New("plugin could not be loaded")
	ErrValidation      = errors.New("plugin failed validation")
	ErrCacheCorruption = errors.New("compiled plugin cache is corrupt")
	ErrUnknownPlugin   = errors.New("no plugin with that identifier")
	ErrFault           = errors.New("plugin fault")

	errRetired = errors.New("plugin was retired")
)

const (
	DefaultCacheDirName   = "__cache"
	WorkDirName           = "__workdir"
	DefaultDebounce       = 500 * time.Millisecond
	DefaultApplyTimeout   = 30 * time.Second
	defaultCompileWorkers = 2
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Instance is a started plugin process.
type Instance interface {
	Describe() (*sdk.Description, error)
	Init(chat sdk.ChatClient) error
	Transform(body []byte, emoji bool) (*webhook.Message, error)
	Kill()
}

// Descriptor is a validated plugin that is ready to transform requests.
type Descriptor struct {
	Identifier string
	Contract   sdk.ContractVersion
	Artifact   Artifact
	// Path is the source file the plugin was loaded from.
	Path string

	instance Instance
	// lock is held for reading by every running transform and for writing
	// when the descriptor is retired.
	lock    sync.RWMutex
	retired bool
}

func (d *Descriptor) transform(ctx context.Context, body []byte, emoji bool) (*webhook.Message, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.retired {
		return nil, errRetired
	}
	type result struct {
		msg *webhook.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v\n%s", ErrFault, p, debug.Stack())}
			}
		}()
		msg, err := d.instance.Transform(body, emoji)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrFault, err)
		}
		done <- result{msg, err}
	}()
	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFault, ctx.Err())
	}
}

// retire waits for running transforms and stops the plugin process.
func (d *Descriptor) retire() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.retired {
		return
	}
	d.retired = true
	d.instance.Kill()
}

// Config configures a Runtime. Dir is required, everything else has a
// default.
type Config struct {
	Dir            string
	CacheDir       string
	Compiler       Compiler
	Loader         Loader
	Chat           sdk.ChatClient
	CompileWorkers int
	Debounce       time.Duration
	ApplyTimeout   time.Duration
}

// Runtime owns every loaded plugin.
type Runtime struct {
	log          zerolog.Logger
	dir          string
	cacheDir     string
	compiler     Compiler
	loader       Loader
	chat         sdk.ChatClient
	debounce     time.Duration
	applyTimeout time.Duration
	compileSem   chan struct{}

	registry atomic.Pointer[map[string]*Descriptor]
	writeMu  sync.Mutex
}

// New creates a runtime. Nothing is loaded until LoadAll is called.
func New(cfg Config, log zerolog.Logger) *Runtime {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.Dir, DefaultCacheDirName)
	}
	if cfg.Compiler == nil {
		cfg.Compiler = &CommandCompiler{Log: log}
	}
	if cfg.Loader == nil {
		cfg.Loader = &ProcessLoader{Log: log}
	}
	if cfg.CompileWorkers <= 0 {
		cfg.CompileWorkers = defaultCompileWorkers
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}
	r := &Runtime{
		log:          log.With().Str("component", "plugins").Logger(),
		dir:          cfg.Dir,
		cacheDir:     cfg.CacheDir,
		compiler:     cfg.Compiler,
		loader:       cfg.Loader,
		chat:         cfg.Chat,
		debounce:     cfg.Debounce,
		applyTimeout: cfg.ApplyTimeout,
		compileSem:   make(chan struct{}, cfg.CompileWorkers),
	}
	empty := make(map[string]*Descriptor)
	r.registry.Store(&empty)
	return r
}

// Dir returns the plugin directory.
func (r *Runtime) Dir() string {
	return r.dir
}

// Lookup returns the plugin registered under identifier. Lock-free.
func (r *Runtime) Lookup(identifier string) (*Descriptor, bool) {
	d, ok := (*r.registry.Load())[identifier]
	return d, ok
}

// Identifiers returns the identifiers of every loaded plugin, sorted.
func (r *Runtime) Identifiers() []string {
	return slices.Sorted(maps.Keys(*r.registry.Load()))
}

// Count returns the number of loaded plugins.
func (r *Runtime) Count() int {
	return len(*r.registry.Load())
}

// Apply runs the transform of the plugin registered under identifier. A nil
// message without an error means the plugin declined the request. Errors
// wrap ErrUnknownPlugin or ErrFault.
func (r *Runtime) Apply(ctx context.Context, identifier string, body []byte, emoji bool) (*webhook.Message, error) {
	d, ok := r.Lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, identifier)
	}
	ctx, cancel := context.WithTimeout(ctx, r.applyTimeout)
	defer cancel()
	return r.applyTo(ctx, d, body, emoji)
}

// applyTo runs d. If d was retired after it was looked up, the descriptor
// that replaced it runs instead.
func (r *Runtime) applyTo(ctx context.Context, d *Descriptor, body []byte, emoji bool) (*webhook.Message, error) {
	for {
		msg, err := d.transform(ctx, body, emoji)
		if !errors.Is(err, errRetired) {
			return msg, err
		}
		next, ok := r.Lookup(d.Identifier)
		if !ok || next == d {
			return nil, fmt.Errorf("%w: %s was unloaded", ErrUnknownPlugin, d.Identifier)
		}
		r.log.Debug().Str("identifier", d.Identifier).Msg("Plugin was replaced during the request, using the new version")
		d = next
	}
}

// Validate checks what a started plugin reports about itself and runs its
// initialization. The returned descriptor is not registered yet.
func (r *Runtime) Validate(instance Instance) (*Descriptor, error) {
	desc, err := instance.Describe()
	if err != nil {
		return nil, fmt.Errorf("%w: describe: %w", ErrValidation, err)
	}
	if !identifierPattern.MatchString(desc.Format) {
		return nil, fmt.Errorf("%w: invalid identifier %q", ErrValidation, desc.Format)
	}
	if desc.ImplementsBoth() {
		return nil, fmt.Errorf("%w: %s implements both contract versions", ErrValidation, desc.Format)
	}
	if err = desc.Capable(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrValidation, desc.Format, err)
	}
	contract, _ := desc.Contract()
	switch contract {
	case sdk.ContractV1:
		if desc.HasInit {
			err = instance.Init(nil)
		}
	case sdk.ContractV2:
		err = instance.Init(r.chat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s init failed: %w", ErrValidation, desc.Format, err)
	}
	return &Descriptor{
		Identifier: desc.Format,
		Contract:   contract,
		instance:   instance,
	}, nil
}

// LoadFile compiles, starts and validates the plugin in path and registers
// it. A plugin that fails any step is not registered and whatever was
// registered before keeps serving.
func (r *Runtime) LoadFile(ctx context.Context, path string) (*Descriptor, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	artifact, err := r.Compile(ctx, source)
	if err != nil {
		return nil, err
	}
	instance, err := r.loader.Load(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	d, err := r.Validate(instance)
	if err != nil {
		instance.Kill()
		return nil, err
	}
	d.Artifact = artifact
	d.Path = path
	r.register(d)
	return d, nil
}

// register swaps d into the registry. Entries it replaces, by identifier or
// by source file, are retired once their running transforms finish.
func (r *Runtime) register(d *Descriptor) {
	r.writeMu.Lock()
	current := *r.registry.Load()
	next := make(map[string]*Descriptor, len(current)+1)
	var superseded []*Descriptor
	for ident, existing := range current {
		if ident == d.Identifier || existing.Path == d.Path {
			superseded = append(superseded, existing)
			continue
		}
		next[ident] = existing
	}
	next[d.Identifier] = d
	r.registry.Store(&next)
	r.writeMu.Unlock()

	for _, old := range superseded {
		if old.Path != d.Path {
			r.log.Warn().
				Str("identifier", d.Identifier).
				Str("path", d.Path).
				Str("previous_path", old.Path).
				Msg("Plugin identifier is now provided by a different file")
		}
		go old.retire()
	}
	r.log.Info().
		Str("identifier", d.Identifier).
		Str("contract", string(d.Contract)).
		Str("path", d.Path).
		Msg("Loaded plugin")
}

// unregister removes every plugin keep rejects.
func (r *Runtime) unregister(keep func(*Descriptor) bool) (removed int) {
	r.writeMu.Lock()
	current := *r.registry.Load()
	next := make(map[string]*Descriptor, len(current))
	var dropped []*Descriptor
	for ident, d := range current {
		if keep(d) {
			next[ident] = d
		} else {
			dropped = append(dropped, d)
		}
	}
	r.registry.Store(&next)
	r.writeMu.Unlock()

	for _, d := range dropped {
		r.log.Info().Str("identifier", d.Identifier).Str("path", d.Path).Msg("Unloaded plugin")
		go d.retire()
	}
	return len(dropped)
}

// Unload removes the plugin loaded from path, if any.
func (r *Runtime) Unload(path string) bool {
	return r.unregister(func(d *Descriptor) bool { return d.Path != path }) > 0
}

// LoadAll loads every plugin in the plugin directory. Plugins that fail to
// load are logged and skipped. Returns the number of plugins loaded.
func (r *Runtime) LoadAll(ctx context.Context) int {
	files, err := Discover(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		r.log.Warn().Str("dir", r.dir).Msg("Plugin directory does not exist, no plugins will be loaded")
		return 0
	} else if err != nil {
		r.log.Err(err).Str("dir", r.dir).Msg("Failed to list plugin directory")
		return 0
	}
	loaded := 0
	for _, file := range files {
		if _, err := r.LoadFile(ctx, file); err != nil {
			r.log.Err(err).Str("path", file).Msg("Failed to load plugin, skipping")
			continue
		}
		loaded++
	}
	if ids := r.Identifiers(); len(ids) > 0 {
		r.log.Info().Strs("plugins", ids).Msg("Plugins ready")
	} else {
		r.log.Info().Msg("No plugins were loaded")
	}
	return loaded
}

// Reload loads every plugin again and drops plugins whose source file is
// gone. Thread-safe.
func (r *Runtime) Reload(ctx context.Context) (loaded, removed int) {
	loaded = r.LoadAll(ctx)
	files, err := Discover(r.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return loaded, 0
	}
	present := make(map[string]struct{}, len(files))
	for _, file := range files {
		present[file] = struct{}{}
	}
	removed = r.unregister(func(d *Descriptor) bool {
		_, ok := present[d.Path]
		return ok
	})
	r.log.Info().
		Int("loaded", loaded).
		Int("removed", removed).
		Int("total", r.Count()).
		Msg("Plugin reload complete")
	return loaded, removed
}

// Close stops every plugin process.
func (r *Runtime) Close() {
	r.writeMu.Lock()
	current := *r.registry.Load()
	empty := make(map[string]*Descriptor)
	r.registry.Store(&empty)
	r.writeMu.Unlock()
	for _, d := range current {
		d.retire()
	}
}

// Discover lists the plugin source files directly inside root. Directories,
// hidden files and test files are skipped, which also keeps the compile
// cache and work directory out.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isPluginSource(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(root, entry.Name()))
	}
	return files, nil
}

func isPluginSource(name string) bool {
	return filepath.Ext(name) == ".go" &&
		!strings.HasSuffix(name, "_test.go") &&
		!strings.HasPrefix(name, ".") &&
		!strings.HasPrefix(name, "_")
}
