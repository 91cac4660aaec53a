// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pluginhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/shlex"
)

// DefaultCompileCommand builds a single file plugin. {source} and {output}
// are replaced with absolute paths.
const DefaultCompileCommand = "go build -trimpath -o {output} {source}"

// Artifact is a compiled plugin binary in the cache.
type Artifact struct {
	Key  string
	Path string
}

// Compiler turns a plugin source file into an executable.
type Compiler interface {
	Compile(ctx context.Context, source, output string) error
}

// CommandCompiler runs an external command, by default the Go toolchain, in
// the directory of the source file.
type CommandCompiler struct {
	// Command is split with shell quoting rules. Empty means
	// DefaultCompileCommand.
	Command string
	Log     zerolog.Logger
}

func (c *CommandCompiler) Compile(ctx context.Context, source, output string) error {
	command := c.Command
	if command == "" {
		command = DefaultCompileCommand
	}
	args, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("invalid compile command: %w", err)
	} else if len(args) == 0 {
		return fmt.Errorf("compile command is empty")
	}
	replacer := strings.NewReplacer("{source}", source, "{output}", output)
	for i, arg := range args {
		args[i] = replacer.Replace(arg)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(source)
	c.Log.Debug().Strs("args", args).Str("dir", cmd.Dir).Msg("Running plugin compiler")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SourceKey is the cache key of a plugin source.
func SourceKey(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Compile returns the cached binary for source, compiling it first on a
// cache miss. Concurrent compiles of the same source may both run; each
// writes to its own temporary file and the final rename is atomic, so the
// cache never holds a partial binary.
func (r *Runtime) Compile(ctx context.Context, source []byte) (Artifact, error) {
	key := SourceKey(source)
	artifact := Artifact{Key: key, Path: filepath.Join(r.cacheDir, key)}
	if r.cached(artifact) {
		r.log.Debug().Str("key", key).Msg("Using cached plugin binary")
		return artifact, nil
	}

	select {
	case r.compileSem <- struct{}{}:
		defer func() { <-r.compileSem }()
	case <-ctx.Done():
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, ctx.Err())
	}
	// Another worker may have finished the same source while we waited.
	if r.cached(artifact) {
		return artifact, nil
	}

	workDir, err := filepath.Abs(filepath.Join(r.dir, WorkDirName, key+"-"+uuid.NewString()))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if err = os.MkdirAll(workDir, 0o700); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.log.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove plugin work directory")
		}
	}()
	sourcePath := filepath.Join(workDir, "main.go")
	if err = os.WriteFile(sourcePath, source, 0o600); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if err = os.MkdirAll(r.cacheDir, 0o700); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	cacheDir, err := filepath.Abs(r.cacheDir)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	tmpOutput := filepath.Join(cacheDir, "."+key+"-"+uuid.NewString()+".tmp")
	defer os.Remove(tmpOutput)

	r.log.Info().Str("key", key).Msg("Compiling plugin")
	if err = r.compiler.Compile(ctx, sourcePath, tmpOutput); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if info, err := os.Stat(tmpOutput); err != nil {
		return Artifact{}, fmt.Errorf("%w: compiler produced no output: %w", ErrCompile, err)
	} else if !info.Mode().IsRegular() || info.Size() == 0 {
		return Artifact{}, fmt.Errorf("%w: compiler produced an empty binary", ErrCompile)
	}
	if err = os.Chmod(tmpOutput, 0o700); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if err = os.Rename(tmpOutput, artifact.Path); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return artifact, nil
}

// cached reports whether a usable binary exists for the artifact. Anything
// else at that path is removed.
func (r *Runtime) cached(artifact Artifact) bool {
	info, err := os.Lstat(artifact.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	} else if err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return true
	}
	if err == nil {
		err = fmt.Errorf("unexpected mode %s and size %d", info.Mode(), info.Size())
	}
	r.log.Error().
		Err(fmt.Errorf("%w: %w", ErrCacheCorruption, err)).
		Str("path", artifact.Path).
		Msg("Removing unusable cache entry")
	if err := os.RemoveAll(artifact.Path); err != nil {
		r.log.Warn().Err(err).Str("path", artifact.Path).Msg("Failed to remove cache entry")
	}
	return false
}

// ClearCache deletes every compiled plugin. Plugins that are already running
// are not affected. Returns the number of removed entries.
func (r *Runtime) ClearCache() (int, error) {
	entries, err := os.ReadDir(r.cacheDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err = os.RemoveAll(filepath.Join(r.cacheDir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	r.log.Info().Int("removed", removed).Str("dir", r.cacheDir).Msg("Cleared plugin cache")
	return removed, nil
}
