// Package server exposes the capture workflow over HTTP and pushes session changes to websocket
// viewers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/menta2k/capture-studio/internal/logger"
	"github.com/menta2k/capture-studio/internal/utils"
	"github.com/menta2k/capture-studio/pkg/collection"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/types"
	"github.com/menta2k/capture-studio/pkg/workflow"
)

// Options configures a Server
type Options struct {
	Logger      logger.Leveled
	MaxUploadMB int
	SlotCount   int
}

// Server serves one capture session
type Server struct {
	orch        *workflow.Orchestrator
	collection  *collection.Service
	hub         *Hub
	logger      logger.Leveled
	maxUpload   int64
	slotCount   int
	upgrader    websocket.Upgrader
	unsubscribe func()
}

// New creates a server. collection may be nil, which disables the artwork routes.
func New(orch *workflow.Orchestrator, coll *collection.Service, opts Options) *Server {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 20
	}
	if opts.SlotCount <= 0 {
		opts.SlotCount = 12
	}
	l := logger.OrNop(opts.Logger)

	s := &Server{
		orch:       orch,
		collection: coll,
		hub:        NewHub(l),
		logger:     l,
		maxUpload:  int64(opts.MaxUploadMB) << 20,
		slotCount:  opts.SlotCount,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.unsubscribe = orch.Store().Subscribe(func(snap store.Session) {
		msg, err := sessionMessage(snap)
		if err != nil {
			s.logger.Error("failed to encode session: %v", err)
			return
		}
		s.hub.Broadcast(msg)
	})
	return s
}

// Close detaches from the store and disconnects viewers
func (s *Server) Close() {
	s.unsubscribe()
	s.hub.Close()
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/capture", s.handleCapture)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/boxes/{id}/select", s.handleSelect)
	mux.HandleFunc("PATCH /api/boxes/{id}/draft", s.handleDraft)
	mux.HandleFunc("POST /api/editor/{command}", s.handleEditor)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("GET /api/artworks", s.handleArtworks)
	mux.HandleFunc("GET /api/slots", s.handleSlots)
	mux.HandleFunc("GET /api/overlay", s.handleOverlay)
	mux.HandleFunc("GET /preview/{handle}", s.handlePreview)
	mux.HandleFunc("GET /artworks/{file}", s.handleArtworkFile)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return mux
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

type sessionResponse struct {
	Session store.Session   `json:"session"`
	Status  workflow.Status `json:"status"`
}

type eventMessage struct {
	Type    string        `json:"type"`
	Session store.Session `json:"session"`
}

func sessionMessage(snap store.Session) ([]byte, error) {
	return json.Marshal(eventMessage{Type: "session", Session: snap})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing file: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = utils.MediaTypeFromFilename(header.Filename)
	}

	token, err := s.orch.AcceptFile(&types.Upload{Name: header.Filename, MediaType: mediaType, Data: data})
	if errors.Is(err, workflow.ErrInvalidInput) {
		s.writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]uint64{"token": token})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, sessionResponse{
		Session: s.orch.Store().Snapshot(),
		Status:  s.orch.Status(),
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orch.SelectBox(id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown box %q", id))
		return
	}
	s.handleSession(w, r)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var update types.LabelDraftUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid draft update: %w", err))
		return
	}
	if err := s.orch.UpdateDraft(r.PathValue("id"), update); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.handleSession(w, r)
}

type editorRequest struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	var req editorRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid editor request: %w", err))
			return
		}
	}

	var err error
	result := map[string]string{}
	switch r.PathValue("command") {
	case "name":
		err = s.orch.SetName(req.Text)
	case "suggest-name":
		result["name"], err = s.orch.SuggestName()
	case "category":
		err = s.orch.SetCategory(req.Text)
	case "description":
		err = s.orch.SetDescription(req.Text)
	case "stat":
		err = s.orch.SetStat(workflow.StatField(req.Field), req.Value)
	case "adjust-stat":
		err = s.orch.AdjustStat(workflow.StatField(req.Field), int(req.Value))
	case "time":
		err = s.orch.SetTimeField(workflow.TimeField(req.Field), int(req.Value))
	case "sync-time":
		err = s.orch.SyncTime()
	case "generate-description":
		text, src, genErr := s.orch.GenerateDescription(r.Context())
		result["description"], result["source"], err = text, string(src), genErr
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown command %q", r.PathValue("command")))
		return
	}

	if errors.Is(err, workflow.ErrNoSelection) {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type saveRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid save request: %w", err))
			return
		}
	}

	id, err := s.orch.Save(r.Context(), req.UserID)
	switch {
	case errors.Is(err, workflow.ErrNothingToSave), errors.Is(err, workflow.ErrNoSelection):
		s.writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]interface{}{"id": id}
	if s.collection != nil && id != "" {
		if a, err := s.collection.Get(r.Context(), id); err == nil {
			resp["artwork"] = a
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtworks(w http.ResponseWriter, r *http.Request) {
	if s.collection == nil {
		s.writeError(w, http.StatusNotFound, errors.New("collection disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > collection.MaxLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", collection.MaxLimit))
			return
		}
		limit = n
	}

	items, err := s.collection.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if s.collection == nil {
		s.writeError(w, http.StatusNotFound, errors.New("collection disabled"))
		return
	}
	n := s.slotCount
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > collection.MaxLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n must be between 1 and %d", collection.MaxLimit))
			return
		}
		n = parsed
	}

	slots, err := s.collection.Slots(r.Context(), n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"slots": slots})
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	_, blob, ok := s.orch.DisplayedPreview()
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("no preview"))
		return
	}

	p := processing.NewProcessor()
	img, err := p.Decode(blob.Data)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	snap := s.orch.Store().Snapshot()
	data, mediaType, err := p.Encode(processing.DrawDetections(img, snap.DetectionBoxes, snap.SelectedBoxID), "image/png")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.Write(data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.orch.Registry().Get(r.PathValue("handle"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("preview released or unknown"))
		return
	}
	w.Header().Set("Content-Type", blob.MediaType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(blob.Data)
}

func (s *Server) handleArtworkFile(w http.ResponseWriter, r *http.Request) {
	if s.collection == nil {
		http.NotFound(w, r)
		return
	}
	name := filepath.Base(r.PathValue("file"))
	path := filepath.Join(s.collection.StorageDir(), name)
	if name == "." || !utils.IsImageFile(name) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}
