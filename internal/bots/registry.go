package bots

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/util"
)

// Registry holds the bots found under the bots directory.
type Registry struct {
	dir        string
	cfg        config.BotsConfig
	appVersion string
	client     *http.Client

	mu   sync.RWMutex
	bots map[string]Bot
	list []models.BotInfo

	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	debounceDelay time.Duration
	timerMu       sync.Mutex
	stopChan      chan struct{}
}

// NewRegistry creates an empty registry for cfg.Path. Call Load to scan it.
func NewRegistry(cfg config.BotsConfig, appVersion string) *Registry {
	return &Registry{
		dir:           cfg.Path,
		cfg:           cfg,
		appVersion:    appVersion,
		client:        &http.Client{Timeout: 60 * time.Second},
		bots:          make(map[string]Bot),
		list:          []models.BotInfo{},
		debounceDelay: 500 * time.Millisecond,
	}
}

// Dir returns the absolute bots directory.
func (r *Registry) Dir() string {
	abs, err := filepath.Abs(r.dir)
	if err != nil {
		return r.dir
	}
	return abs
}

// Load rescans the bots directory, replacing the registered set.
func (r *Registry) Load() error {
	root := r.Dir()
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create bots directory: %w", err)
	}

	found := make(map[string]Bot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
			if d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		bot := r.botFor(root, path)
		if bot != nil {
			found[bot.Info().Path] = bot
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan bots directory: %w", err)
	}

	list := make([]models.BotInfo, 0, len(found))
	for _, b := range found {
		list = append(list, b.Info())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })

	r.mu.Lock()
	r.bots = found
	r.list = list
	r.mu.Unlock()

	log.Info().Str("dir", root).Int("count", len(list)).Msg("Bots loaded")
	return nil
}

// botFor builds the bot for file, or nil if the file is not a bot.
func (r *Registry) botFor(root, file string) Bot {
	ext := filepath.Ext(file)
	if ext == ".json" {
		return nil
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		return nil
	}
	info := models.BotInfo{
		Path:    filepath.ToSlash(rel),
		Name:    strings.TrimSuffix(filepath.Base(file), ext),
		Enabled: true,
	}

	var interpreter string
	if strings.EqualFold(ext, ".js") {
		info.Kind = KindScript
	} else if prog, ok := r.cfg.Interpreter(ext); ok {
		info.Kind = KindExec
		interpreter = prog
	} else {
		return nil
	}

	manifest, err := LoadManifest(file)
	switch {
	case err != nil:
		info.Enabled = false
		info.Reason = err.Error()
	case manifest != nil:
		if manifest.Name != "" {
			info.Name = manifest.Name
		}
		info.Description = manifest.Description
		info.Version = manifest.Version
		ok, err := Compatible(manifest.MinServerVersion, r.appVersion)
		if err != nil {
			info.Enabled = false
			info.Reason = err.Error()
		} else if !ok {
			info.Enabled = false
			info.Reason = fmt.Sprintf("requires server %s or newer", manifest.MinServerVersion)
		}
	}

	if info.Kind == KindScript {
		return NewScriptBot(info, file, r.client)
	}
	return NewExecBot(info, file, interpreter)
}

// List returns the registered bots sorted by path.
func (r *Registry) List() []models.BotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.BotInfo, len(r.list))
	copy(out, r.list)
	return out
}

// Resolve returns the enabled bot at botPath, which is relative to the bots
// directory. A leading "bots/" segment is accepted for compatibility with
// older clients.
func (r *Registry) Resolve(botPath string) (Bot, error) {
	p := strings.TrimSpace(strings.ReplaceAll(botPath, `\`, "/"))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "bots/")

	root := r.Dir()
	full, err := util.ResolveWithin(root, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, botPath)
	}
	rel, _ := filepath.Rel(root, full)
	key := filepath.ToSlash(rel)

	r.mu.RLock()
	bot, ok := r.bots[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if info := bot.Info(); !info.Enabled {
		return nil, fmt.Errorf("%w: %s: %s", ErrDisabled, key, info.Reason)
	}
	return bot, nil
}
