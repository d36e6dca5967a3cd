// Package webdrivertest provides an in-process fake of a remote automation grid, for tests.
package webdrivertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// HubPath is where the fake serves the protocol; use Remote.URL to get the full hub URL.
const HubPath = "/wd/hub"

// Page is the content that the fake browser shows for a URL. Elements maps a locator value, such
// as ".account-number", to the element's text.
type Page struct {
	Title    string
	Elements map[string]string
}

// Remote is a fake grid. Configure it before the first request; the recording accessors may be
// called at any time.
type Remote struct {
	Username  string
	AccessKey string
	Pages     map[string]Page

	// RejectSession, if set, is called for every new-session request with the decoded payload.
	// Returning a non-zero status makes the request fail with that status.
	RejectSession func(payload map[string]interface{}) (status int, message string)
	// DeleteStatus, if non-zero, is returned for every delete-session request.
	DeleteStatus int
	// Legacy makes the fake answer in the JSON wire protocol dialect.
	Legacy bool

	server    *httptest.Server
	lock      sync.Mutex
	nextID    int
	active    map[string]*session
	created   []string
	deleted   []string
	payloads  []map[string]interface{}
	maxActive int
	authFails int
}

type session struct {
	url      string
	elements map[string]string
}

// Start begins serving on a local port. Call Close when done.
func (r *Remote) Start() *Remote {
	r.server = httptest.NewServer(r.Handler())
	return r
}

func (r *Remote) Close() {
	if r.server != nil {
		r.server.Close()
	}
}

// URL is the hub URL to give to webdriver.NewClient.
func (r *Remote) URL() string {
	return r.server.URL + HubPath
}

func (r *Remote) Handler() http.Handler {
	router := mux.NewRouter()
	hub := router.PathPrefix(HubPath).Subrouter()
	hub.HandleFunc("/session", r.newSession).Methods(http.MethodPost)
	hub.HandleFunc("/session/{id}", r.deleteSession).Methods(http.MethodDelete)
	hub.HandleFunc("/session/{id}/url", r.withSession(r.navigate)).Methods(http.MethodPost)
	hub.HandleFunc("/session/{id}/title", r.withSession(r.title)).Methods(http.MethodGet)
	hub.HandleFunc("/session/{id}/element", r.withSession(r.findElement)).Methods(http.MethodPost)
	hub.HandleFunc("/session/{id}/element/{element}/text", r.withSession(r.elementText)).Methods(http.MethodGet)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.authorized(req) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid username or access key")
			return
		}
		router.ServeHTTP(w, req)
	})
}

// Created returns the IDs of all sessions created so far, in order.
func (r *Remote) Created() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.created...)
}

// Deleted returns the IDs of all sessions deleted so far, in order, including repeated deletes.
func (r *Remote) Deleted() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.deleted...)
}

// Active returns the number of sessions that have been created and not deleted.
func (r *Remote) Active() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.active)
}

// MaxActive is the highest number of simultaneously active sessions seen.
func (r *Remote) MaxActive() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.maxActive
}

// Payloads returns the decoded bodies of all new-session requests.
func (r *Remote) Payloads() []map[string]interface{} {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]map[string]interface{}(nil), r.payloads...)
}

func (r *Remote) AuthFailures() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.authFails
}

func (r *Remote) authorized(req *http.Request) bool {
	if r.Username == "" {
		return true
	}
	user, key, ok := req.BasicAuth()
	if ok && user == r.Username && key == r.AccessKey {
		return true
	}
	r.lock.Lock()
	r.authFails++
	r.lock.Unlock()
	return false
}

func (r *Remote) newSession(w http.ResponseWriter, req *http.Request) {
	var payload map[string]interface{}
	data, _ := io.ReadAll(req.Body)
	if err := json.Unmarshal(data, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	r.lock.Lock()
	r.payloads = append(r.payloads, payload)
	r.lock.Unlock()

	if r.RejectSession != nil {
		if status, message := r.RejectSession(payload); status != 0 {
			writeError(w, status, "session not created", message)
			return
		}
	}

	r.lock.Lock()
	r.nextID++
	id := fmt.Sprintf("session-%d", r.nextID)
	if r.active == nil {
		r.active = make(map[string]*session)
	}
	r.active[id] = &session{elements: make(map[string]string)}
	r.created = append(r.created, id)
	if len(r.active) > r.maxActive {
		r.maxActive = len(r.active)
	}
	r.lock.Unlock()

	if r.Legacy {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessionId": id, "status": 0, "value": map[string]interface{}{}})
		return
	}
	caps := map[string]interface{}{"acceptInsecureCerts": false}
	if desired, ok := payload["desiredCapabilities"].(map[string]interface{}); ok {
		caps["browserName"] = desired["browserName"]
		caps["browserVersion"] = desired["version"]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"value": map[string]interface{}{"sessionId": id, "capabilities": caps},
	})
}

func (r *Remote) deleteSession(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	r.lock.Lock()
	r.deleted = append(r.deleted, id)
	_, ok := r.active[id]
	if r.DeleteStatus == 0 {
		delete(r.active, id)
	}
	r.lock.Unlock()

	switch {
	case r.DeleteStatus != 0:
		writeError(w, r.DeleteStatus, "unknown error", "could not delete session")
	case !ok:
		writeError(w, http.StatusNotFound, "invalid session id", "no such session "+id)
	default:
		r.writeValue(w, nil)
	}
}

type sessionHandler func(w http.ResponseWriter, req *http.Request, s *session)

func (r *Remote) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		r.lock.Lock()
		s := r.active[id]
		r.lock.Unlock()
		if s == nil {
			writeError(w, http.StatusNotFound, "invalid session id", "no such session "+id)
			return
		}
		h(w, req, s)
	}
}

func (r *Remote) navigate(w http.ResponseWriter, req *http.Request, s *session) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	if _, ok := r.Pages[params.URL]; !ok {
		writeError(w, http.StatusInternalServerError, "unknown error", "could not load "+params.URL)
		return
	}
	r.lock.Lock()
	s.url = params.URL
	r.lock.Unlock()
	r.writeValue(w, nil)
}

func (r *Remote) title(w http.ResponseWriter, req *http.Request, s *session) {
	r.lock.Lock()
	page := r.Pages[s.url]
	r.lock.Unlock()
	r.writeValue(w, page.Title)
}

func (r *Remote) findElement(w http.ResponseWriter, req *http.Request, s *session) {
	var params struct {
		Using string `json:"using"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	r.lock.Lock()
	text, ok := r.Pages[s.url].Elements[params.Value]
	var elementID string
	if ok {
		elementID = fmt.Sprintf("element-%d", len(s.elements)+1)
		s.elements[elementID] = text
	}
	r.lock.Unlock()

	if !ok {
		if r.Legacy {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": 7, "value": map[string]string{"message": "no such element"}})
			return
		}
		writeError(w, http.StatusNotFound, "no such element", "no element matches "+params.Value)
		return
	}
	if r.Legacy {
		r.writeValue(w, map[string]string{"ELEMENT": elementID})
		return
	}
	r.writeValue(w, map[string]string{"element-6066-11e4-a52e-4f735466cecf": elementID})
}

func (r *Remote) elementText(w http.ResponseWriter, req *http.Request, s *session) {
	r.lock.Lock()
	text, ok := s.elements[mux.Vars(req)["element"]]
	r.lock.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such element", "stale element reference")
		return
	}
	r.writeValue(w, text)
}

func (r *Remote) writeValue(w http.ResponseWriter, value interface{}) {
	body := map[string]interface{}{"value": value}
	if r.Legacy {
		body["status"] = 0
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"value": map[string]string{"error": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
