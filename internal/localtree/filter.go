package localtree

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/treesync/treesync/internal/config"
)

// FilterDecision is the filter cascade's verdict for one path.
type FilterDecision struct {
	Include bool
	Reason  string // populated when Include is false
}

var included = FilterDecision{Include: true}

// Filter decides which entries of a local tree participate in scanning,
// via a three-layer cascade: the sync_paths allowlist, config patterns
// (skip_files, skip_dirs, skip_dotfiles, max_file_size, temp-file
// suffixes), and per-directory ignore-marker files with gitignore
// semantics.
type Filter struct {
	cfg      config.FilterConfig
	syncRoot string
	logger   *slog.Logger

	// maxFileSizeBytes is the parsed max_file_size threshold (0 = no limit).
	maxFileSizeBytes int64

	// markerCache holds parsed ignore-marker files per directory path. A
	// nil entry means the directory was checked and carries no marker.
	markerCache map[string]*ignore.GitIgnore
	mu          gosync.RWMutex
}

// NewFilter builds a Filter from the profile's filter section. syncRoot
// anchors ignore-marker lookups on disk.
func NewFilter(cfg config.FilterConfig, syncRoot string, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxBytes, err := config.ParseSize(cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("localtree: parse max_file_size %q: %w", cfg.MaxFileSize, err)
	}

	return &Filter{
		cfg:              cfg,
		syncRoot:         syncRoot,
		logger:           logger,
		maxFileSizeBytes: maxBytes,
		markerCache:      make(map[string]*ignore.GitIgnore),
	}, nil
}

// Decide evaluates the cascade for one root-relative path.
func (f *Filter) Decide(path string, isDir bool, size int64) FilterDecision {
	if d := f.checkSyncPaths(path, isDir); !d.Include {
		return d
	}

	if d := f.checkConfigPatterns(path, isDir, size); !d.Include {
		return d
	}

	return f.checkIgnoreMarker(path, isDir)
}

// checkSyncPaths applies the allowlist: when sync_paths is configured,
// only paths inside an allowed subtree pass. Ancestor directories of an
// allowed subtree stay traversable so the scanner can reach it.
func (f *Filter) checkSyncPaths(path string, isDir bool) FilterDecision {
	if len(f.cfg.SyncPaths) == 0 {
		return included
	}

	normalPath := filepath.ToSlash(filepath.Clean(path))

	for _, sp := range f.cfg.SyncPaths {
		normalSP := filepath.ToSlash(filepath.Clean(sp))

		if normalPath == normalSP || strings.HasPrefix(normalPath, normalSP+"/") {
			return included
		}

		if isDir && strings.HasPrefix(normalSP, normalPath+"/") {
			return included
		}
	}

	f.logger.Debug("path excluded by sync_paths", "path", path)

	return FilterDecision{Reason: "not in sync_paths"}
}

// checkConfigPatterns applies temp-file suffixes, skip_dotfiles,
// skip_dirs/skip_files globs, and max_file_size.
func (f *Filter) checkConfigPatterns(path string, isDir bool, size int64) FilterDecision {
	name := filepath.Base(path)

	if !isDir && IsTempName(name) {
		f.logger.Debug("path excluded as temp/partial file", "path", path)
		return FilterDecision{Reason: "temp/partial file"}
	}

	if f.cfg.SkipDotfiles && strings.HasPrefix(name, ".") {
		f.logger.Debug("path excluded by skip_dotfiles", "path", path)
		return FilterDecision{Reason: "dotfile excluded"}
	}

	if isDir {
		if matchesSkipPattern(f.logger, name, f.cfg.SkipDirs) {
			f.logger.Debug("path excluded by skip_dirs", "path", path)
			return FilterDecision{Reason: "matches skip_dirs pattern"}
		}

		return included
	}

	if matchesSkipPattern(f.logger, name, f.cfg.SkipFiles) {
		f.logger.Debug("path excluded by skip_files", "path", path)
		return FilterDecision{Reason: "matches skip_files pattern"}
	}

	if f.maxFileSizeBytes > 0 && size > f.maxFileSizeBytes {
		f.logger.Debug("path excluded by max_file_size", "path", path, "size", size)
		return FilterDecision{Reason: "exceeds max_file_size"}
	}

	return included
}

// checkIgnoreMarker applies the configured per-directory marker file
// (gitignore semantics) to the entry, when ignore_marker is set.
func (f *Filter) checkIgnoreMarker(path string, isDir bool) FilterDecision {
	if f.cfg.IgnoreMarker == "" {
		return included
	}

	gi := f.loadMarker(filepath.Dir(path))
	if gi == nil {
		return included
	}

	// go-gitignore expects forward slashes; a trailing slash marks a dir.
	matchPath := filepath.ToSlash(path)
	if isDir {
		matchPath += "/"
	}

	if gi.MatchesPath(matchPath) {
		f.logger.Debug("path excluded by ignore marker", "path", path)
		return FilterDecision{Reason: "excluded by " + f.cfg.IgnoreMarker}
	}

	return included
}

// loadMarker loads and caches the ignore-marker file for one directory,
// caching a nil for directories without one so the disk is probed once.
func (f *Filter) loadMarker(dir string) *ignore.GitIgnore {
	f.mu.RLock()
	gi, cached := f.markerCache[dir]
	f.mu.RUnlock()

	if cached {
		return gi
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gi, cached = f.markerCache[dir]; cached {
		return gi
	}

	markerPath := filepath.Join(f.syncRoot, dir, f.cfg.IgnoreMarker)

	parsed, err := ignore.CompileIgnoreFile(markerPath)
	if err != nil {
		f.markerCache[dir] = nil
		return nil
	}

	f.logger.Debug("loaded ignore marker", "dir", dir, "path", markerPath)
	f.markerCache[dir] = parsed

	return parsed
}

// matchesSkipPattern reports whether name matches any glob pattern,
// case-insensitively. Malformed patterns are logged and skipped rather
// than failing the whole filter.
func matchesSkipPattern(logger *slog.Logger, name string, patterns []string) bool {
	lowerName := strings.ToLower(name)

	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), lowerName)
		if err != nil {
			logger.Warn("malformed skip pattern", "pattern", pattern, "error", err)
			continue
		}

		if matched {
			return true
		}
	}

	return false
}
