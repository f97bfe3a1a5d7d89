package i18n

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/mivoportal/internal/events"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultLanguage is used when no preference has been stored.
const DefaultLanguage = "en"

// Source loads the full catalog for a language.
type Source interface {
	Load(ctx context.Context, lang string) (Messages, error)
}

// Options configures a Catalog. Preferences and Bus are optional.
type Options struct {
	Source          Source
	Preferences     storage.PreferenceStore
	Bus             *events.Bus
	DefaultLanguage string
	Logger          zerolog.Logger
}

// Catalog holds the active language and its messages for one client.
type Catalog struct {
	mu       sync.RWMutex
	lang     string
	messages Messages

	source      Source
	prefs       storage.PreferenceStore
	bus         *events.Bus
	defaultLang string
	logger      zerolog.Logger
}

// NewCatalog creates an empty catalog. Call Restore or SetLanguage to load
// messages.
func NewCatalog(opts Options) *Catalog {
	def := opts.DefaultLanguage
	if def == "" {
		def = DefaultLanguage
	}
	return &Catalog{
		lang:        def,
		messages:    Messages{},
		source:      opts.Source,
		prefs:       opts.Preferences,
		bus:         opts.Bus,
		defaultLang: def,
		logger:      opts.Logger.With().Str("component", "i18n").Logger(),
	}
}

// Language returns the active language.
func (c *Catalog) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// Messages returns a copy of the active mapping.
func (c *Catalog) Messages() Messages {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages.Clone()
}

// Lookup resolves a dotted key in the active mapping.
func (c *Catalog) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages.Lookup(key)
}

// T resolves a dotted key, returning the key itself on a miss.
func (c *Catalog) T(key string) string {
	if v, ok := c.Lookup(key); ok {
		return v
	}
	return key
}

// Extend merges a partial mapping into the active language. The active
// mapping is left untouched when the merge conflicts.
func (c *Catalog) Extend(partial Messages) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged, err := Merge(c.messages, partial)
	if err != nil {
		return err
	}
	c.messages = merged
	return nil
}

// SetLanguage loads lang, makes it active, stores it as the client's
// preference and publishes LanguageChanged. On a load failure the previous
// language stays active.
func (c *Catalog) SetLanguage(ctx context.Context, clientID, lang string) error {
	if c.source == nil {
		return fmt.Errorf("i18n: no catalog source configured")
	}

	msgs, err := c.source.Load(ctx, lang)
	if err != nil {
		c.logger.Error().Err(err).Str("lang", lang).Msg("Failed to load language")
		return err
	}

	c.mu.Lock()
	c.lang = lang
	c.messages = msgs
	c.mu.Unlock()

	if c.prefs != nil && clientID != "" {
		if err := c.prefs.Set(ctx, clientID, storage.PreferenceLanguage, lang); err != nil {
			c.logger.Warn().Err(err).Str("client", clientID).Msg("Failed to persist language preference")
		}
	}

	c.logger.Debug().Str("lang", lang).Msg("Language changed")
	if c.bus != nil {
		c.bus.Publish(events.LanguageChanged, events.LanguagePayload{Lang: lang})
	}
	return nil
}

// Restore activates the client's stored language, or the default language
// when none is stored. A stored language that no longer loads falls back to
// the default.
func (c *Catalog) Restore(ctx context.Context, clientID string) error {
	lang := c.PreferredLanguage(ctx, clientID)
	if err := c.SetLanguage(ctx, clientID, lang); err != nil {
		if lang == c.defaultLang {
			return err
		}
		return c.SetLanguage(ctx, clientID, c.defaultLang)
	}
	return nil
}

// PreferredLanguage returns the stored preference for clientID or the
// default language.
func (c *Catalog) PreferredLanguage(ctx context.Context, clientID string) string {
	if c.prefs == nil || clientID == "" {
		return c.defaultLang
	}

	pref, err := c.prefs.Get(ctx, clientID, storage.PreferenceLanguage)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).Str("client", clientID).Msg("Failed to read language preference")
		}
		return c.defaultLang
	}
	if pref.Value == "" {
		return c.defaultLang
	}
	return pref.Value
}
