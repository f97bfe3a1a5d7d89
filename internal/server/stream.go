package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/metrics"
	"github.com/goodtune/mivoportal/internal/portal"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamWriteWait = 10 * time.Second
	frameBuffer     = 2
)

// Stream message types sent to the page.
const (
	MessageStatus   = "status"
	MessageScan     = "scan"
	MessageLanguage = "language"
	MessageAction   = "action"
	MessageError    = "error"
)

// Command types received from the page. Binary messages are camera frames.
const (
	CommandLanguage  = "lang"
	CommandQROpen    = "qr_open"
	CommandQRSwitch  = "qr_switch"
	CommandQRDecoded = "qr_decoded"
	CommandQRConfirm = "qr_confirm"
	CommandQRClose   = "qr_close"
)

// StreamMessage is one server to page message.
type StreamMessage struct {
	Type string      `json:"type"`
	Page string      `json:"page"`
	Data interface{} `json:"data"`
}

// StreamCommand is one page to server message.
type StreamCommand struct {
	Type   string `json:"type"`
	Lang   string `json:"lang,omitempty"`
	Target string `json:"target,omitempty"`
	Text   string `json:"text,omitempty"`
}

// LanguageData is the payload of a language message.
type LanguageData struct {
	Lang     string        `json:"lang"`
	Messages i18n.Messages `json:"messages"`
}

// streamConn serializes writes to one websocket.
type streamConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	pageID string
	logger zerolog.Logger
}

func (c *streamConn) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := c.conn.WriteJSON(StreamMessage{Type: msgType, Page: c.pageID, Data: data}); err != nil {
		c.logger.Debug().Err(err).Str("type", msgType).Msg("Stream write failed")
		return err
	}
	return nil
}

func (c *streamConn) RenderStatus(v status.View) {
	_ = c.send(MessageStatus, v)
}

func (c *streamConn) RenderScan(s qrauth.Snapshot) {
	_ = c.send(MessageScan, s)
}

func (c *streamConn) RenderLanguage(lang string, msgs i18n.Messages) {
	_ = c.send(MessageLanguage, LanguageData{Lang: lang, Messages: msgs})
}

func (c *streamConn) sendError(err error) {
	_ = c.send(MessageError, map[string]string{"message": err.Error()})
}

// handleStream runs one page view for the lifetime of the websocket. The
// status view ticks and pushes until the socket closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	attrs := attributesFromQuery(r)
	clientID := ClientIDFromContext(r.Context())
	pageHost := r.Host

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	pageID := uuid.NewString()
	logger := s.logger.With().Str("page", pageID).Logger()
	sc := &streamConn{conn: conn, pageID: pageID, logger: logger}

	// The request context ends with the handler; the page gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan image.Image, frameBuffer)

	page, err := portal.Init(ctx, portal.Options{
		Attributes:      attrs,
		PageConfig:      s.config.PageConfig,
		Fetcher:         s.fetcher,
		TickInterval:    s.config.TickInterval,
		PageHost:        pageHost,
		ClientID:        clientID,
		Live:            qrauth.NewFrameSource(frames, logger),
		Static:          s.scanner,
		Capture:         s.config.Capture,
		Form:            portal.FormFunc(func(_ context.Context, a portal.Action) error { return sc.send(MessageAction, a) }),
		ScanLogs:        s.scanLogs(),
		Locales:         s.localeSource(),
		Preferences:     s.preferences(),
		DefaultLanguage: s.config.DefaultLanguage,
		Renderer:        sc,
		Logger:          logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize page")
		return
	}
	defer page.Close()

	logger.Debug().Str("client", clientID).Msg("Page stream opened")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Page stream closed unexpectedly")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.pushFrame(frames, data, logger)
		case websocket.TextMessage:
			var cmd StreamCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				sc.sendError(errors.New("invalid command"))
				continue
			}
			if err := s.runCommand(ctx, page, cmd); err != nil {
				sc.sendError(err)
			}
		}
	}
}

func (s *Server) runCommand(ctx context.Context, page *portal.Page, cmd StreamCommand) error {
	switch cmd.Type {
	case CommandLanguage:
		return page.SetLanguage(ctx, cmd.Lang)
	case CommandQROpen:
		return page.QR.InitQR(ctx, qrauth.Target(cmd.Target))
	case CommandQRSwitch:
		return page.QR.SwitchCamera(ctx)
	case CommandQRDecoded:
		_, err := page.QR.HandleDecoded(ctx, cmd.Text)
		return err
	case CommandQRConfirm:
		return page.QR.Confirm(ctx)
	case CommandQRClose:
		page.QR.Close()
		return nil
	default:
		return errors.New("unknown command " + cmd.Type)
	}
}

// pushFrame decodes a camera frame and hands it to the live source,
// dropping it when the decoder is still busy with earlier frames.
func (s *Server) pushFrame(frames chan<- image.Image, data []byte, logger zerolog.Logger) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Debug().Err(err).Msg("Unreadable camera frame")
		return
	}
	select {
	case frames <- img:
	default:
	}
}

func (s *Server) scanLogs() storage.ScanLogStore {
	if s.store == nil {
		return nil
	}
	return s.store.ScanLogs()
}

func (s *Server) localeSource() i18n.Source {
	if s.locales == nil {
		return nil
	}
	return s.locales
}
