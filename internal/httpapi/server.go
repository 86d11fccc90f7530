// Package httpapi is the peer HTTP surface driving TaskManager and
// IOManager directly, for operators not going through the chat-based
// admin agent. It is a thin shell: every handler is a one-to-one call
// into a core component plus JSON (de)serialization.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/technosupport/vms-watch/internal/config"
	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/health"
	"github.com/technosupport/vms-watch/internal/iomanager"
	"github.com/technosupport/vms-watch/internal/middleware"
	"github.com/technosupport/vms-watch/internal/platform/windows"
	"github.com/technosupport/vms-watch/internal/taskmanager"
)

// Settings is the subset of data.Store the settings routes need.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Sessions is the subset of data.Store the session routes need. Sessions
// are opaque to the core; these routes exist only so the external chat
// collaborator has somewhere to list and resume its own conversations.
type Sessions interface {
	SaveSession(ctx context.Context, sess data.Session) error
	GetSession(ctx context.Context, sessionID string) (data.Session, error)
	ListSessions(ctx context.Context) ([]data.Session, error)
}

// Server wires the core components behind gorilla/mux routes, following
// the teacher's cmd/server/main.go "Protect(handler)" wrapping style for
// cross-cutting concerns, here CORS+request logging instead of JWT auth
// (this engine has no first-party auth layer of its own).
type Server struct {
	tasks    *taskmanager.Manager
	devices  *iomanager.Manager
	settings Settings
	sessions Sessions
	monitor  *health.Monitor
	reload   taskmanager.ProviderFactory

	router *mux.Router
}

func New(tasks *taskmanager.Manager, devices *iomanager.Manager, settings Settings, sessions Sessions, monitor *health.Monitor, providerFactory taskmanager.ProviderFactory) *Server {
	s := &Server{tasks: tasks, devices: devices, settings: settings, sessions: sessions, monitor: monitor, reload: providerFactory}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	protect := func(h http.HandlerFunc) http.Handler {
		return middleware.RequestLogger(middleware.CORS(h))
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.Handle("/tasks", protect(s.addTask)).Methods(http.MethodPost)
	v1.Handle("/tasks", protect(s.listTasks)).Methods(http.MethodGet)
	v1.Handle("/tasks/{id}", protect(s.getTask)).Methods(http.MethodGet)
	v1.Handle("/tasks/{id}", protect(s.editTask)).Methods(http.MethodPut)
	v1.Handle("/tasks/{id}", protect(s.deleteTask)).Methods(http.MethodDelete)
	v1.Handle("/tasks/{id}/stop", protect(s.stopTask)).Methods(http.MethodPost)

	v1.Handle("/devices", protect(s.listDevices)).Methods(http.MethodGet)
	v1.Handle("/devices", protect(s.addDevice)).Methods(http.MethodPost)
	v1.Handle("/devices/{id}", protect(s.removeDevice)).Methods(http.MethodDelete)
	v1.Handle("/devices/{id}/frame", protect(s.deviceFrame)).Methods(http.MethodGet)
	v1.Handle("/devices/discover", protect(s.discoverDevices)).Methods(http.MethodGet)

	v1.Handle("/settings/{key}", protect(s.getSetting)).Methods(http.MethodGet)
	v1.Handle("/settings/{key}", protect(s.setSetting)).Methods(http.MethodPut)
	v1.Handle("/settings/{key}", protect(s.deleteSetting)).Methods(http.MethodDelete)

	v1.Handle("/model/reload", protect(s.reloadModel)).Methods(http.MethodPost)
	v1.Handle("/health", protect(s.healthReport)).Methods(http.MethodGet)

	v1.Handle("/sessions", protect(s.listSessions)).Methods(http.MethodGet)
	v1.Handle("/sessions", protect(s.createSession)).Methods(http.MethodPost)
	v1.Handle("/sessions/{id}", protect(s.getSession)).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IOID string `json:"io_id"`
		Desc string `json:"desc"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID, err := s.tasks.AddTask(r.Context(), req.IOID, req.Desc)
	if err != nil {
		switch {
		case errors.Is(err, taskmanager.ErrNotCamera), errors.Is(err, taskmanager.ErrDeviceGone):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "task_id": taskID})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ioID := r.URL.Query().Get("io_id")
	writeJSON(w, http.StatusOK, s.tasks.ListTasks(ioID))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	task, ok := s.tasks.GetTask(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) editTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	var req struct {
		Desc string `json:"desc"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.tasks.EditTask(r.Context(), taskID, req.Desc); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := s.tasks.DeleteTask(r.Context(), taskID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	err := s.tasks.StopTask(r.Context(), taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, taskmanager.ErrAlreadyStopped):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusNotFound, err.Error())
	}
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.List(r.Context(), false))
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dev, err := s.devices.AddNetworkCamera(r.Context(), req.URL, req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	ioID := mux.Vars(r)["id"]
	ok, err := s.devices.RemoveNetworkCamera(r.Context(), ioID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deviceFrame(w http.ResponseWriter, r *http.Request) {
	ioID := mux.Vars(r)["id"]
	frame, ok := s.tasks.GetLatestFrameForDevice(ioID)
	if !ok {
		writeError(w, http.StatusNotFound, "no frame available yet")
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

// discoverDevices runs a bounded LAN scan for candidate hosts an operator
// can promote to network cameras via POST /devices. Unsupported off
// Windows, where there's no WMI/NetAdapter equivalent wired up.
func (s *Server) discoverDevices(w http.ResponseWriter, r *http.Request) {
	hosts, err := windows.ScanLAN(r.Context(), windows.DiscoveryConfig{})
	if errors.Is(err, windows.ErrDiscoveryUnsupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discovery_run_id": uuid.NewString(),
		"hosts":            hosts,
	})
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok, err := s.settings.GetSetting(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	if config.SensitiveKeys[key] {
		value = config.MaskSecret(value)
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) setSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.settings.SetSetting(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deleteSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.settings.DeleteSetting(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reloadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		req.Model = config.DefaultModel
	}
	res, err := s.tasks.ReloadModelProvider(req.Model, s.reload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess := data.Session{SessionID: uuid.NewString(), Title: req.Title}
	if err := s.sessions.SaveSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) healthReport(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, []health.Report{})
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.AllReports())
}
