package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/metrics"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/gorilla/mux"
	"github.com/spf13/cast"
)

// attributesFromQuery reads the injected session attributes. Parameters the
// page did not send stay empty and are treated like unsubstituted values.
func attributesFromQuery(r *http.Request) status.Attributes {
	q := r.URL.Query()
	return status.Attributes{
		Uptime:      q.Get("uptime"),
		Username:    q.Get("username"),
		LimitTime:   q.Get("limit_uptime"),
		LimitBytes:  q.Get("limit_bytes"),
		RemainBytes: q.Get("remain_bytes"),
		RemainTime:  q.Get("remain_time"),
	}
}

// labelsFor loads the catalog of lang for unit labels. A missing catalog
// falls back to unit letters.
func (s *Server) labelsFor(ctx context.Context, lang string) i18n.Messages {
	if s.locales == nil || lang == "" {
		return nil
	}
	msgs, err := s.locales.Load(ctx, lang)
	if err != nil {
		s.logger.Debug().Err(err).Str("lang", lang).Msg("Unit labels unavailable")
		return nil
	}
	return msgs
}

// handleStatus reconciles one view synchronously: local computation plus,
// when needed, the single remote fetch bounded by the fetch timeout.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = s.preferredLanguage(r)
	}

	opts := status.Options{
		PageConfig: s.config.PageConfig,
		Fetcher:    s.fetcher,
		Logger:     s.logger,
	}
	if labels := s.labelsFor(r.Context(), lang); labels != nil {
		opts.Labels = labels
	}

	rec := status.NewReconciler(attributesFromQuery(r), opts)
	rec.Init()

	if rec.ShouldFetchAPI() && s.fetcher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.FetchTimeout)
		if err := rec.Fetch(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Remote status unavailable, serving local view")
		}
		cancel()
	}

	view := rec.View()
	rec.Stop()
	writeJSON(w, http.StatusOK, view)
}

// ValidateRequest is the body of POST /api/qr/validate.
type ValidateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target,omitempty"`
	Intent string `json:"intent,omitempty"`
}

// ValidateResponse carries a dispatch-ready result.
type ValidateResponse struct {
	Target   qrauth.Target      `json:"target"`
	Result   *qrauth.ScanResult `json:"result"`
	Password string             `json:"password,omitempty"`
}

func scanIntent(target, intent string) (qrauth.Target, qrauth.Intent, error) {
	t := qrauth.TargetVoucher
	if target != "" {
		parsed, err := qrauth.ParseTarget(target)
		if err != nil {
			return "", "", err
		}
		t = parsed
	}
	i := t.Intent()
	if intent != "" {
		parsed, err := qrauth.ParseIntent(intent)
		if err != nil {
			return "", "", err
		}
		i = parsed
	}
	return t, i, nil
}

func (s *Server) handleQRValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target, intent, err := scanIntent(req.Target, req.Intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondValidated(w, r, target, intent, req.Text)
}

func (s *Server) handleQRScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	target, intent, err := scanIntent(r.FormValue("target"), r.FormValue("intent"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing image file")
		return
	}
	defer file.Close()

	text, err := s.scanner.Decode(r.Context(), file)
	if err != nil {
		cerr := &qrauth.CaptureError{Source: qrauth.SourceFile, Err: err}
		metrics.CaptureFailuresTotal.WithLabelValues(qrauth.SourceFile).Inc()
		s.recordScan(r, storage.ScanLog{
			Target:  string(target),
			Intent:  string(intent),
			Outcome: storage.OutcomeCaptureFailed,
			Cause:   qrauth.SourceFile,
		})
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   http.StatusText(http.StatusUnprocessableEntity),
			Message: cerr.Error(),
			Cause:   "no_code",
			Code:    http.StatusUnprocessableEntity,
		})
		return
	}

	s.respondValidated(w, r, target, intent, text)
}

// respondValidated runs host and field validation against the Host the
// page was requested on and writes the result or the rejection.
func (s *Server) respondValidated(w http.ResponseWriter, r *http.Request, target qrauth.Target, intent qrauth.Intent, text string) {
	res, err := qrauth.Validate(text, r.Host, intent)
	if err != nil {
		var rej *qrauth.RejectionError
		if !errors.As(err, &rej) {
			writeError(w, http.StatusInternalServerError, "Validation failed")
			return
		}

		metrics.QRRejectionsTotal.WithLabelValues(string(rej.Cause)).Inc()
		metrics.QRScansTotal.WithLabelValues(string(intent), "rejected").Inc()
		s.logger.Warn().
			Str("cause", string(rej.Cause)).
			Str("qr_host", rej.Host).
			Str("page_host", r.Host).
			Msg("QR payload rejected")
		s.recordScan(r, storage.ScanLog{
			Target:  string(target),
			Intent:  string(intent),
			Outcome: storage.OutcomeRejected,
			Cause:   string(rej.Cause),
			Host:    rej.Host,
		})

		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   http.StatusText(http.StatusUnprocessableEntity),
			Message: rej.Message(),
			Cause:   string(rej.Cause),
			Code:    http.StatusUnprocessableEntity,
		})
		return
	}

	outcome := storage.OutcomeConfirmable
	if intent == qrauth.IntentCheck {
		outcome = storage.OutcomeDispatched
	}
	metrics.QRScansTotal.WithLabelValues(string(intent), string(outcome)).Inc()
	s.recordScan(r, storage.ScanLog{
		Target:   string(target),
		Intent:   string(intent),
		Outcome:  outcome,
		Host:     res.Host,
		Identity: res.Identity(),
	})

	writeJSON(w, http.StatusOK, ValidateResponse{Target: target, Result: res, Password: res.Password})
}

func (s *Server) recordScan(r *http.Request, log storage.ScanLog) {
	if s.store == nil {
		return
	}
	log.ClientID = ClientIDFromContext(r.Context())
	log.Timestamp = time.Now()
	if err := s.store.ScanLogs().Add(r.Context(), log); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record scan log")
	}
}

// handleQRLogs returns filtered scan logs, newest first.
func (s *Server) handleQRLogs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Storage not configured")
		return
	}

	query := r.URL.Query()
	filter := storage.ScanLogFilter{
		ClientID: query.Get("client_id"),
		Limit:    100,
	}
	if outcome := query.Get("outcome"); outcome != "" {
		o, err := storage.ParseOutcome(outcome)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Outcome = o
	}
	if limit := cast.ToInt(query.Get("limit")); limit > 0 && limit <= 1000 {
		filter.Limit = limit
	}
	if offset := cast.ToInt(query.Get("offset")); offset > 0 {
		filter.Offset = offset
	}
	if startStr := query.Get("start_time"); startStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &startTime
		}
	}
	if endStr := query.Get("end_time"); endStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &endTime
		}
	}

	logs, err := s.store.ScanLogs().Query(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query scan logs")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if s.locales == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"languages": []string{}, "default": s.config.DefaultLanguage})
		return
	}
	langs, err := s.locales.Languages()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list languages")
		writeError(w, http.StatusInternalServerError, "Failed to list languages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"languages": langs, "default": s.config.DefaultLanguage})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	lang := mux.Vars(r)["lang"]
	if s.locales == nil {
		writeError(w, http.StatusNotFound, "No locales configured")
		return
	}

	msgs, err := s.locales.Load(r.Context(), lang)
	switch {
	case errors.Is(err, i18n.ErrInvalidLanguage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, i18n.ErrUnknownLanguage):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Str("lang", lang).Msg("Failed to load catalog")
		writeError(w, http.StatusInternalServerError, "Failed to load catalog")
	default:
		writeJSON(w, http.StatusOK, msgs)
	}
}

// preferredLanguage returns the stored language of the requesting client.
func (s *Server) preferredLanguage(r *http.Request) string {
	catalog := i18n.NewCatalog(i18n.Options{
		Preferences:     s.preferences(),
		DefaultLanguage: s.config.DefaultLanguage,
		Logger:          s.logger,
	})
	return catalog.PreferredLanguage(r.Context(), ClientIDFromContext(r.Context()))
}

func (s *Server) preferences() storage.PreferenceStore {
	if s.store == nil {
		return nil
	}
	return s.store.Preferences()
}

func (s *Server) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"lang": s.preferredLanguage(r)})
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lang string `json:"lang"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Lang == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if s.locales == nil {
		writeError(w, http.StatusNotFound, "No locales configured")
		return
	}

	catalog := i18n.NewCatalog(i18n.Options{
		Source:          s.locales,
		Preferences:     s.preferences(),
		DefaultLanguage: s.config.DefaultLanguage,
		Logger:          s.logger,
	})
	if err := catalog.SetLanguage(r.Context(), ClientIDFromContext(r.Context()), req.Lang); err != nil {
		switch {
		case errors.Is(err, i18n.ErrInvalidLanguage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, i18n.ErrUnknownLanguage):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to change language")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"lang": catalog.Language()})
}
