// Package loader reads strategy profiles from a YAML file and hot-reloads
// them on change. A profile binds a set of symbols to a strategy and its
// parameters; the profile marked default covers symbols no other profile
// claims.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/pkg/symbol"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition binds symbols to one strategy configuration.
type ProfileDefinition struct {
	Name     string         `yaml:"-"`
	Strategy string         `yaml:"strategy"`
	Symbols  []string       `yaml:"symbols"`
	Params   map[string]any `yaml:"params"`
	Default  bool           `yaml:"default"`

	symbolsNorm []string
}

// NormalizedSymbols returns the profile's symbols in canonical form.
func (p ProfileDefinition) NormalizedSymbols() []string {
	out := make([]string, len(p.symbolsNorm))
	copy(out, p.symbolsNorm)
	return out
}

type fileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot is a read-only view of the loaded profiles.
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// For resolves the profile covering the symbol, falling back to the default
// profile. Returns false when nothing covers it.
func (s ProfileSnapshot) For(sym string) (ProfileDefinition, bool) {
	sym = symbol.Normalize(sym)
	var def ProfileDefinition
	var hasDefault bool
	for _, p := range s.Profiles {
		for _, ps := range p.symbolsNorm {
			if ps == sym {
				return p, true
			}
		}
		if p.Default {
			def, hasDefault = p, true
		}
	}
	return def, hasDefault
}

// ChangeListener is invoked with the fresh snapshot after each reload.
type ChangeListener func(ProfileSnapshot)

// ProfileLoader loads the profile file and watches it for changes.
type ProfileLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	l := &ProfileLoader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile watcher failed: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("profile watch %s failed: %w", path, err)
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

func (l *ProfileLoader) watch() {
	target := filepath.Clean(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("profile watcher error: %v", err)
		}
	}
}

// Snapshot returns the current snapshot (copied).
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go runListener(fn, snap)
}

func (l *ProfileLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go runListener(fn, snap)
	}
}

func runListener(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}
	var fileCfg fileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition, len(fileCfg.Profiles))
	defaults := 0
	for name, def := range fileCfg.Profiles {
		norm, err := normalizeProfile(name, def)
		if err != nil {
			return err
		}
		if norm.Default {
			defaults++
		}
		normalized[name] = norm
	}
	if defaults > 1 {
		return fmt.Errorf("profile config has %d default profiles, want at most one", defaults)
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("profile loader loaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeProfile(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = name
	def.Strategy = strings.ToLower(strings.TrimSpace(def.Strategy))
	if def.Strategy == "" {
		return def, fmt.Errorf("profile %s missing strategy", name)
	}
	def.symbolsNorm = def.symbolsNorm[:0]
	for _, s := range def.Symbols {
		if strings.TrimSpace(s) == "" {
			continue
		}
		norm := symbol.Normalize(s)
		if !symbol.IsValid(norm) {
			return def, fmt.Errorf("profile %s has invalid symbol %q", name, s)
		}
		def.symbolsNorm = append(def.symbolsNorm, norm)
	}
	if def.Params == nil {
		def.Params = make(map[string]any)
	}
	return def, nil
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
