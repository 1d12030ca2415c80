package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the skill lifecycle: discovery from local directories,
// eligibility gating, lazy content loading, and change watching.
type Manager struct {
	sources   []DiscoverySource
	logger    *slog.Logger
	gatingCtx *GatingContext

	skillsMu sync.RWMutex
	skills   map[string]*SkillEntry

	eligibleMu sync.RWMutex
	eligible   map[string]*SkillEntry

	watcher       *fsnotify.Watcher
	watchPaths    map[string]struct{}
	watchMu       sync.Mutex
	watchDebounce time.Duration
	watchStop     chan struct{}
}

// NewManager assembles a manager over the default sources (workspace,
// home, configured extra dirs). configValues feeds config-path gating.
func NewManager(cfg *SkillsConfig, workspacePath string, configValues map[string]any) (*Manager, error) {
	if cfg == nil {
		cfg = &SkillsConfig{}
	}

	homeDir, _ := os.UserHomeDir()
	localPath := filepath.Join(homeDir, ".nexus", "skills")

	var extraDirs []string
	debounce := 500 * time.Millisecond
	if cfg.Load != nil {
		extraDirs = cfg.Load.ExtraDirs
		if cfg.Load.WatchDebounceMs > 0 {
			debounce = time.Duration(cfg.Load.WatchDebounceMs) * time.Millisecond
		}
	}

	sources := BuildDefaultSources(workspacePath, localPath, "", extraDirs)
	for _, srcCfg := range cfg.Sources {
		// Only local directories are discoverable; remote skill
		// distribution is out of scope for this engine.
		if srcCfg.Type == SourceLocal || srcCfg.Type == SourceExtra {
			sources = append(sources, NewLocalSource(srcCfg.Path, srcCfg.Type, PriorityExtra))
		}
	}

	return &Manager{
		sources:       sources,
		logger:        slog.Default(),
		gatingCtx:     NewGatingContext(cfg.Entries, configValues),
		skills:        make(map[string]*SkillEntry),
		eligible:      make(map[string]*SkillEntry),
		watchPaths:    make(map[string]struct{}),
		watchDebounce: debounce,
	}, nil
}

// Discover scans all sources and refreshes the eligible set.
func (m *Manager) Discover(ctx context.Context) error {
	skills, err := DiscoverAll(ctx, m.sources)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	m.skillsMu.Lock()
	m.skills = make(map[string]*SkillEntry)
	for _, skill := range skills {
		m.skills[skill.Name] = skill
	}
	m.skillsMu.Unlock()

	m.logger.Info("discovered skills", "count", len(skills))

	if err := m.RefreshEligible(); err != nil {
		return err
	}
	m.refreshWatches()
	return nil
}

// RefreshEligible re-runs gating over the discovered set.
func (m *Manager) RefreshEligible() error {
	m.skillsMu.RLock()
	all := make([]*SkillEntry, 0, len(m.skills))
	for _, skill := range m.skills {
		all = append(all, skill)
	}
	m.skillsMu.RUnlock()

	eligible := FilterEligible(all, m.gatingCtx)

	m.eligibleMu.Lock()
	m.eligible = make(map[string]*SkillEntry)
	for _, skill := range eligible {
		m.eligible[skill.Name] = skill
	}
	m.eligibleMu.Unlock()

	m.logger.Info("eligible skills", "eligible", len(eligible), "total", len(all))
	return nil
}

// GetSkill returns a discovered skill by name.
func (m *Manager) GetSkill(name string) (*SkillEntry, bool) {
	m.skillsMu.RLock()
	defer m.skillsMu.RUnlock()
	skill, ok := m.skills[name]
	return skill, ok
}

// GetEligible returns an eligible skill by name.
func (m *Manager) GetEligible(name string) (*SkillEntry, bool) {
	m.eligibleMu.RLock()
	defer m.eligibleMu.RUnlock()
	skill, ok := m.eligible[name]
	return skill, ok
}

// ListAll returns every discovered skill in stable name order.
func (m *Manager) ListAll() []*SkillEntry {
	m.skillsMu.RLock()
	defer m.skillsMu.RUnlock()
	result := make([]*SkillEntry, 0, len(m.skills))
	for _, skill := range m.skills {
		result = append(result, skill)
	}
	sortSkills(result)
	return result
}

// ListEligible returns the skills that pass gating, in stable name order.
func (m *Manager) ListEligible() []*SkillEntry {
	m.eligibleMu.RLock()
	defer m.eligibleMu.RUnlock()
	result := make([]*SkillEntry, 0, len(m.eligible))
	for _, skill := range m.eligible {
		result = append(result, skill)
	}
	sortSkills(result)
	return result
}

// LoadContent returns the skill's markdown body, reading and caching it on
// first use.
func (m *Manager) LoadContent(name string) (string, error) {
	m.skillsMu.Lock()
	defer m.skillsMu.Unlock()

	skill, ok := m.skills[name]
	if !ok {
		return "", fmt.Errorf("skill not found: %s", name)
	}
	if skill.Content != "" {
		return skill.Content, nil
	}

	parsed, err := ParseSkillFile(filepath.Join(skill.Path, SkillFilename))
	if err != nil {
		return "", fmt.Errorf("load skill %s: %w", name, err)
	}
	skill.Content = parsed.Content
	return skill.Content, nil
}

// StartWatching re-discovers after skill files change on disk, debounced.
func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	m.watchMu.Lock()
	m.watcher = watcher
	m.watchStop = make(chan struct{})
	m.watchMu.Unlock()

	m.refreshWatches()

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.watchStop:
			return
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watcher error", "error", err)
		case <-fire:
			if err := m.Discover(ctx); err != nil {
				m.logger.Warn("skill re-discovery failed", "error", err)
			}
		}
	}
}

// refreshWatches points the watcher at every source directory and every
// discovered skill directory.
func (m *Manager) refreshWatches() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher == nil {
		return
	}

	paths := make(map[string]struct{})
	for _, src := range m.sources {
		if w, ok := src.(WatchableSource); ok {
			for _, p := range w.WatchPaths() {
				paths[p] = struct{}{}
			}
		}
	}
	m.skillsMu.RLock()
	for _, skill := range m.skills {
		if skill.Path != "" {
			paths[skill.Path] = struct{}{}
		}
	}
	m.skillsMu.RUnlock()

	for p := range paths {
		if _, watched := m.watchPaths[p]; watched {
			continue
		}
		if err := m.watcher.Add(p); err != nil {
			continue
		}
		m.watchPaths[p] = struct{}{}
	}
}

// Close stops the watcher.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watchStop != nil {
		close(m.watchStop)
		m.watchStop = nil
	}
	if m.watcher != nil {
		err := m.watcher.Close()
		m.watcher = nil
		return err
	}
	return nil
}

// sortSkills orders skills alphabetically by name.
func sortSkills(skills []*SkillEntry) {
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
}
