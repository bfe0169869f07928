package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/foxseedlab/kaigiroku/external/websocket"
	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/foxseedlab/kaigiroku/internal/summary"
	"github.com/foxseedlab/kaigiroku/internal/transcriber"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBodySize = 1 << 20  // 1 MiB
	maxAudioBodySize   = 25 << 20 // 25 MiB

	noSpeechMessage = "No speech could be recognized"
)

// SessionServer runs one streaming session on an upgraded connection.
type SessionServer interface {
	Serve(ctx context.Context, conn session.Conn, params session.ServeParams) error
}

// SessionArchive reads finished and running sessions back from storage.
type SessionArchive interface {
	GetSession(ctx context.Context, sessionID string) (*repository.Session, error)
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error)
}

type Deps struct {
	Sessions     SessionServer
	Archive      SessionArchive
	Files        transcriber.FileTranscriber
	LLM          llm.Client
	Outlines     *summary.Registry
	Gatherer     prometheus.Gatherer
	Languages    []string
	Model        string
	OutlineModel string
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /ws/transcribe", h.StreamTranscribe)
	mux.HandleFunc("POST /transcribe", h.TranscribeFile)
	mux.HandleFunc("POST /summarize", h.Summarize)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /conversations/{id}/transcript", h.AppendTranscript)
	mux.HandleFunc("POST /conversations/{id}/reconcile", h.Reconcile)
	mux.HandleFunc("GET /conversations/{id}/outline", h.Outline)
	mux.HandleFunc("POST /conversations/{id}/next-topic", h.NextTopic)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "kaigiroku is running"})
}

// StreamTranscribe handles GET /ws/transcribe
func (h *Handler) StreamTranscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Upgrade(w, r)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	params := session.ServeParams{
		ConversationID: strings.TrimSpace(r.URL.Query().Get("conversation")),
		Languages:      requestLanguages(r),
	}
	if err := h.deps.Sessions.Serve(r.Context(), conn, params); err != nil {
		slog.Info("streaming session ended with error", "error", err, "conversation_id", params.ConversationID)
	}
}

// TranscribeFile handles POST /transcribe
func (h *Handler) TranscribeFile(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		writeError(w, http.StatusUnsupportedMediaType, "File must be an audio file")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio body is too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio body is empty")
		return
	}

	languages := requestLanguages(r)
	if len(languages) == 0 {
		languages = h.deps.Languages
	}
	utterances, err := h.deps.Files.TranscribeFile(r.Context(), data, languages)
	if err != nil {
		slog.Error("file transcription failed", "error", err, "bytes", len(data))
		writeError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	if len(utterances) == 0 {
		writeJSON(w, http.StatusOK, ErrorResponse{Error: noSpeechMessage})
		return
	}
	resp := TranscribeResponse{Utterances: make([]UtteranceResponse, 0, len(utterances))}
	for _, u := range utterances {
		resp.Utterances = append(resp.Utterances, UtteranceResponse{
			Text:     u.Text,
			Language: u.Language,
			Offset:   u.Offset.Milliseconds(),
			Duration: u.Duration.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Summarize handles POST /summarize
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	out, err := summary.Summarize(r.Context(), h.deps.LLM, h.deps.Model, r.PostForm.Get("text"))
	if err != nil {
		if errors.Is(err, summary.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		slog.Error("summarize failed", "error", err)
		writeError(w, llmErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: out})
}

// GetSession handles GET /sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.deps.Archive.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("failed to load session", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	segments, err := h.deps.Archive.ListSegmentsBySessionID(r.Context(), id)
	if err != nil {
		slog.Error("failed to load transcript segments", "error", err, "session_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load transcript segments")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess, segments))
}

// AppendTranscript handles POST /conversations/{id}/transcript
func (h *Handler) AppendTranscript(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req AppendTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	added := h.deps.Outlines.Append(id, req.Text)
	writeJSON(w, http.StatusOK, AppendTranscriptResponse{ConversationID: id, Added: added})
}

// Reconcile handles POST /conversations/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outline, err := h.deps.Outlines.Reconcile(r.Context(), id)
	if errors.Is(err, summary.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	resp := OutlineResponse{ConversationID: id, Sections: nonNilOutline(outline)}
	if err != nil {
		// The previous outline is still served; the failure is reported alongside it.
		slog.Warn("outline reconcile failed", "conversation_id", id, "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Outline handles GET /conversations/{id}/outline
func (h *Handler) Outline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outline, ok := h.deps.Outlines.Outline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, OutlineResponse{ConversationID: id, Sections: nonNilOutline(outline)})
}

// NextTopic handles POST /conversations/{id}/next-topic
func (h *Handler) NextTopic(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req NextTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outline, _ := h.deps.Outlines.Outline(r.PathValue("id"))
	res, err := summary.SuggestNextTopic(r.Context(), h.deps.LLM, h.deps.OutlineModel, summary.NextTopicRequest{
		Outline:             outline,
		RecentTranscript:    req.RecentTranscript,
		PresentationOutline: req.PresentationOutline,
	})
	if err != nil {
		slog.Error("next topic suggestion failed", "error", err, "conversation_id", r.PathValue("id"))
		writeError(w, llmErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func requestLanguages(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["language"] {
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				out = append(out, code)
			}
		}
	}
	return out
}

func llmErrorStatus(err error) int {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusErr) && statusErr.RateLimited():
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func nonNilOutline(o summary.Outline) summary.Outline {
	if o == nil {
		return summary.Outline{}
	}
	return o
}
