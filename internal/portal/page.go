package portal

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/mivoportal/internal/events"
	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/rs/zerolog"
)

// Renderer is the page binding notified of every change.
type Renderer interface {
	RenderStatus(view status.View)
	RenderScan(snap qrauth.Snapshot)
	RenderLanguage(lang string, messages i18n.Messages)
}

// Options configures one page view.
type Options struct {
	Attributes   status.Attributes
	PageConfig   status.PageConfig
	Fetcher      status.Fetcher
	TickInterval time.Duration

	PageHost string
	ClientID string
	Live     qrauth.LiveSource
	Static   qrauth.StaticSource
	Capture  qrauth.CaptureConfig
	Form     qrauth.LoginForm
	ScanLogs storage.ScanLogStore

	Locales         i18n.Source
	Preferences     storage.PreferenceStore
	DefaultLanguage string

	Renderer Renderer
	Logger   zerolog.Logger
}

// Page is one running portal page: a status view, a QR pipeline and the
// active language, connected through a private event bus.
type Page struct {
	Status  *status.Reconciler
	QR      *qrauth.Pipeline
	Catalog *i18n.Catalog
	Bus     *events.Bus

	clientID string
	unsubs   []func()
	logger   zerolog.Logger
}

// Init restores the client's language, starts the status view and prepares
// the QR pipeline. The returned page runs until Close.
func Init(ctx context.Context, opts Options) (*Page, error) {
	if opts.Renderer == nil {
		return nil, errors.New("portal: renderer is required")
	}

	logger := opts.Logger.With().Str("component", "portal").Str("client", opts.ClientID).Logger()
	bus := events.NewBus(logger)

	catalog := i18n.NewCatalog(i18n.Options{
		Source:          opts.Locales,
		Preferences:     opts.Preferences,
		Bus:             bus,
		DefaultLanguage: opts.DefaultLanguage,
		Logger:          logger,
	})
	if opts.Locales != nil {
		if err := catalog.Restore(ctx, opts.ClientID); err != nil {
			logger.Warn().Err(err).Msg("No locale available, using raw keys")
		}
	}

	p := &Page{
		Catalog:  catalog,
		Bus:      bus,
		clientID: opts.ClientID,
		logger:   logger,
	}

	p.Status = status.NewReconciler(opts.Attributes, status.Options{
		PageConfig:   opts.PageConfig,
		Fetcher:      opts.Fetcher,
		Labels:       catalog,
		TickInterval: opts.TickInterval,
		Logger:       logger,
		Renderer: status.RendererFunc(func(v status.View) {
			bus.Publish(events.StatusUpdated, v)
		}),
	})

	p.QR = qrauth.NewPipeline(qrauth.Options{
		Live:     opts.Live,
		Static:   opts.Static,
		Form:     opts.Form,
		PageHost: opts.PageHost,
		Capture:  opts.Capture,
		ClientID: opts.ClientID,
		ScanLogs: opts.ScanLogs,
		Bus:      bus,
		Logger:   logger,
	})

	r := opts.Renderer
	p.unsubs = append(p.unsubs,
		bus.Subscribe(events.StatusUpdated, func(payload any) {
			if v, ok := payload.(status.View); ok {
				r.RenderStatus(v)
			}
		}),
		bus.Subscribe(events.ScanUpdated, func(payload any) {
			if s, ok := payload.(qrauth.Snapshot); ok {
				r.RenderScan(s)
			}
		}),
		bus.Subscribe(events.LanguageChanged, func(payload any) {
			lp, ok := payload.(events.LanguagePayload)
			if !ok {
				return
			}
			r.RenderLanguage(lp.Lang, catalog.Messages())
			p.Status.Refresh()
		}),
	)

	r.RenderLanguage(catalog.Language(), catalog.Messages())
	p.Status.Start(ctx)

	logger.Debug().Str("lang", catalog.Language()).Msg("Page initialized")
	return p, nil
}

// SetLanguage switches and persists the page language. Status displays are
// re-rendered with the new unit labels.
func (p *Page) SetLanguage(ctx context.Context, lang string) error {
	return p.Catalog.SetLanguage(ctx, p.clientID, lang)
}

// Extend layers a partial message mapping over the active language.
func (p *Page) Extend(partial i18n.Messages) error {
	if err := p.Catalog.Extend(partial); err != nil {
		return err
	}
	p.Bus.Publish(events.LanguageChanged, events.LanguagePayload{Lang: p.Catalog.Language()})
	return nil
}

// Close stops the status view and releases the camera. A remote status
// fetch still in flight is not waited for; its result is dropped.
func (p *Page) Close() {
	p.Status.Stop()
	p.QR.Close()
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.logger.Debug().Msg("Page closed")
}

// Wait blocks until the status goroutines have returned.
func (p *Page) Wait() {
	p.Status.Wait()
}
