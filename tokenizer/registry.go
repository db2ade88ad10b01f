// Package tokenizer loads tokenizer model assets through the request cache
// and counts tokens for text in a background worker, the way the browser
// widget's worker did.
package tokenizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Model describes one countable model: where its tokenizer asset lives, how
// many tokens its context window holds, and the chars-per-token ratio used
// when the asset cannot be loaded.
type Model struct {
	Name          string  `toml:"name"`
	AssetURL      string  `toml:"asset_url"`
	Limit         int     `toml:"limit"`
	CharsPerToken float64 `toml:"chars_per_token"`
}

// DefaultModel is used when a lookup misses.
const DefaultModel = "default"

const (
	cl100kAssetURL = "https://openaipublic.blob.core.windows.net/encodings/cl100k_base.tiktoken"
	o200kAssetURL  = "https://openaipublic.blob.core.windows.net/encodings/o200k_base.tiktoken"
)

func builtinModels() map[string]Model {
	return map[string]Model{
		"gpt-4o":            {Name: "gpt-4o", AssetURL: o200kAssetURL, Limit: 128000},
		"gpt-4o-mini":       {Name: "gpt-4o-mini", AssetURL: o200kAssetURL, Limit: 128000},
		"gpt-4":             {Name: "gpt-4", AssetURL: cl100kAssetURL, Limit: 8192},
		"gpt-3.5-turbo":     {Name: "gpt-3.5-turbo", AssetURL: cl100kAssetURL, Limit: 16385},
		"claude-opus-4":     {Name: "claude-opus-4", Limit: 200000},
		"claude-sonnet-4":   {Name: "claude-sonnet-4", Limit: 200000},
		"claude-3.5-sonnet": {Name: "claude-3.5-sonnet", Limit: 200000},
		"claude-3.5-haiku":  {Name: "claude-3.5-haiku", Limit: 200000},
		DefaultModel:        {Name: DefaultModel, Limit: 100000},
	}
}

// Registry maps model names to Model entries. It starts from the built-in
// table; a TOML file can add or override entries and can be watched for
// changes.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	path   string
	log    zerolog.Logger
}

// NewRegistry returns a registry seeded with the built-in model table.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{models: builtinModels(), log: log}
}

// registryFile is the override file layout:
//
//	[models.my-model]
//	asset_url = "https://example.test/vocab.bpe"
//	limit = 32000
type registryFile struct {
	Models map[string]Model `toml:"models"`
}

// LoadFile merges model entries from the TOML file at path over the current
// table. The file is remembered for Watch.
func (r *Registry) LoadFile(path string) error {
	var file registryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("load model registry %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = path
	for name, m := range file.Models {
		if m.Name == "" {
			m.Name = name
		}
		r.models[name] = m
	}
	r.log.Info().Str("path", path).Int("models", len(file.Models)).Msg("model registry loaded")
	return nil
}

// Lookup returns the entry for name, falling back to the default model.
// The second return reports whether the name itself was found.
func (r *Registry) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[name]; ok {
		return m, true
	}
	return r.models[DefaultModel], false
}

// Names lists all registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the override file whenever it changes, until ctx is done.
// LoadFile must have been called first. Reload failures are logged and the
// previous table stays in effect.
func (r *Registry) Watch(ctx context.Context) error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no registry file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file on save, which
	// drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if err := r.LoadFile(path); err != nil {
					r.log.Warn().Err(err).Str("path", path).Msg("model registry reload failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("model registry watcher error")
			}
		}
	}()
	return nil
}
