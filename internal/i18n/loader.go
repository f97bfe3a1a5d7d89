package i18n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goodtune/mivoportal/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownLanguage is returned when no catalog file exists for a language.
	ErrUnknownLanguage = errors.New("i18n: unknown language")

	// ErrInvalidLanguage is returned for language codes that are not safe
	// to use as file names.
	ErrInvalidLanguage = errors.New("i18n: invalid language code")
)

var languageCode = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})?$`)

var catalogExtensions = []string{".json", ".yaml", ".yml"}

// Loader reads <dir>/<lang>.json (or .yaml/.yml) catalogs and caches the
// parsed result.
type Loader struct {
	dir    string
	cache  *lru.Cache[string, Messages]
	logger zerolog.Logger
}

// NewLoader creates a loader over dir holding at most cacheSize catalogs.
func NewLoader(dir string, cacheSize int, logger zerolog.Logger) (*Loader, error) {
	cache, err := lru.New[string, Messages](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create locale cache: %w", err)
	}

	l := &Loader{
		dir:    dir,
		cache:  cache,
		logger: logger.With().Str("component", "i18n-loader").Logger(),
	}

	l.logger.Info().
		Str("dir", dir).
		Int("cache_size", cacheSize).
		Msg("Locale loader initialized")

	return l, nil
}

// Load returns a private copy of the catalog for lang.
func (l *Loader) Load(ctx context.Context, lang string) (Messages, error) {
	if !languageCode.MatchString(lang) {
		metrics.LocaleLoadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}

	if msgs, ok := l.cache.Get(lang); ok {
		metrics.LocaleLoadsTotal.WithLabelValues("cache_hit").Inc()
		return msgs.Clone(), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, err := l.read(lang)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrUnknownLanguage) {
			result = "missing"
		}
		metrics.LocaleLoadsTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	metrics.LocaleLoadsTotal.WithLabelValues("loaded").Inc()
	l.cache.Add(lang, msgs)
	l.logger.Debug().Str("lang", lang).Int("keys", len(msgs.Keys())).Msg("Locale loaded")

	return msgs.Clone(), nil
}

// Invalidate drops every cached catalog.
func (l *Loader) Invalidate() {
	l.cache.Purge()
}

// Languages lists the languages with a catalog file in the directory.
func (l *Loader) Languages() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !isCatalogExtension(ext) {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ext)
		if languageCode.MatchString(lang) {
			seen[lang] = true
		}
	}

	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs, nil
}

func (l *Loader) read(lang string) (Messages, error) {
	for _, ext := range catalogExtensions {
		path := filepath.Join(l.dir, lang+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		msgs, err := Parse(data, ext)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return msgs, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
}

// Parse decodes a catalog document. ext selects the format (".json",
// ".yaml" or ".yml").
func Parse(data []byte, ext string) (Messages, error) {
	var msgs Messages
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if msgs == nil {
		msgs = Messages{}
	}
	return msgs, nil
}

func isCatalogExtension(ext string) bool {
	for _, e := range catalogExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
