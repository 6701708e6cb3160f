// Package fakeplatform is an in-memory stand-in for the platform's private API and
// web login, used by tests and by the simulated app.
package fakeplatform

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/user/autoengage/internal/logging"
)

const SessionCookie = "sessionid"

type User struct {
	ID       int64
	Username string
	Password string
}

type Comment struct {
	ID        int64
	MediaID   string
	UserID    int64
	Text      string
	ReplyTo   int64
	CreatedAt time.Time
}

type Message struct {
	From int64
	To   string
	Text string
}

type Options struct {
	// FeedbackAfter makes an action kind answer with a spam feedback response once
	// that many actions of the kind succeeded. Kinds missing from the map never get
	// feedback; a zero entry flags the first action.
	FeedbackAfter map[string]int
	// TwoFactor routes web logins through the arithmetic checkpoint.
	TwoFactor bool
	// Captcha makes the web login page show a captcha box.
	Captcha bool
	// Logf receives one line per request when set.
	Logf func(format string, args ...interface{})
}

type Server struct {
	mu sync.Mutex

	opts      Options
	nextID    int64
	users     map[string]*User
	usersByID map[int64]*User
	comments  map[string][]*Comment
	likes     map[string]map[int64]bool
	follows   map[int64]map[int64]bool
	messages  []Message
	done      map[string]int
	requests  map[string]int
	sessions  map[string]int64
	pending   map[string]pendingLogin

	mux *http.ServeMux
}

type pendingLogin struct {
	userID int64
	answer int
}

func New(opts Options) *Server {
	s := &Server{
		opts:      opts,
		nextID:    100,
		users:     make(map[string]*User),
		usersByID: make(map[int64]*User),
		comments:  make(map[string][]*Comment),
		likes:     make(map[string]map[int64]bool),
		follows:   make(map[int64]map[int64]bool),
		done:      make(map[string]int),
		requests:  make(map[string]int),
		sessions:  make(map[string]int64),
		pending:   make(map[string]pendingLogin),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/v1/accounts/login/{$}", s.logRequest(s.handleAPILogin))
	s.mux.HandleFunc("GET /api/v1/media/{id}/comments/{$}", s.logRequest(s.authed(s.handleGetComments)))
	s.mux.HandleFunc("POST /api/v1/media/{id}/comment/{$}", s.logRequest(s.authed(s.handlePostComment)))
	s.mux.HandleFunc("POST /api/v1/media/{id}/like/{$}", s.logRequest(s.authed(s.handleLike(true))))
	s.mux.HandleFunc("POST /api/v1/media/{id}/unlike/{$}", s.logRequest(s.authed(s.handleLike(false))))
	s.mux.HandleFunc("POST /api/v1/friendships/create/{id}/{$}", s.logRequest(s.authed(s.handleFollow(true))))
	s.mux.HandleFunc("POST /api/v1/friendships/destroy/{id}/{$}", s.logRequest(s.authed(s.handleFollow(false))))
	s.mux.HandleFunc("POST /api/v1/direct_v2/threads/broadcast/text/{$}", s.logRequest(s.authed(s.handleMessage)))
	s.mux.HandleFunc("GET /api/v1/users/{username}/usernameinfo/{$}", s.logRequest(s.authed(s.handleUsernameInfo)))

	s.mux.HandleFunc("GET /{$}", s.logRequest(s.handleFeed))
	s.mux.HandleFunc("GET /login", s.logRequest(s.handleLoginPage))
	s.mux.HandleFunc("POST /login", s.logRequest(s.handleLoginSubmit))
	s.mux.HandleFunc("GET /2fa", s.logRequest(s.handle2FAPage))
	s.mux.HandleFunc("POST /2fa", s.logRequest(s.handle2FASubmit))
	s.mux.HandleFunc("GET /logout", s.logRequest(s.handleLogout))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(username, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	u := &User{ID: s.nextID, Username: username, Password: password}
	s.users[username] = u
	s.usersByID[u.ID] = u
	return u.ID
}

// AddComment seeds a comment on mediaID and returns its id.
func (s *Server) AddComment(mediaID string, userID int64, text string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCommentLocked(mediaID, userID, text, 0).ID
}

func (s *Server) addCommentLocked(mediaID string, userID int64, text string, replyTo int64) *Comment {
	s.nextID++
	c := &Comment{ID: s.nextID, MediaID: mediaID, UserID: userID, Text: text, ReplyTo: replyTo, CreatedAt: time.Now()}
	s.comments[mediaID] = append(s.comments[mediaID], c)
	return c
}

// Comments returns a copy of mediaID's thread.
func (s *Server) Comments(mediaID string) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Comment, 0, len(s.comments[mediaID]))
	for _, c := range s.comments[mediaID] {
		out = append(out, *c)
	}
	return out
}

func (s *Server) Likes(mediaID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.likes[mediaID])
}

func (s *Server) Follows(userID, targetID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follows[userID][targetID]
}

func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Requests counts action requests received for kind, refused ones included.
func (s *Server) Requests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[kind]
}

func (s *Server) logRequest(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Logf != nil {
			s.opts.Logf("[%s] %s %s", r.RemoteAddr, r.Method, r.URL.Path)
		} else {
			logging.Logger.Debugf("fakeplatform %s %s", r.Method, r.URL.Path)
		}
		h(w, r)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *User)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.sessionUser(r)
		if user == nil {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{"status": "fail", "message": "login_required"})
			return
		}
		h(w, r, user)
	}
}

func (s *Server) sessionUser(r *http.Request) *User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[cookie.Value]
	if !ok {
		return nil
	}
	return s.usersByID[id]
}

func (s *Server) startSession(w http.ResponseWriter, userID int64) {
	token := randomToken()
	s.mu.Lock()
	s.sessions[token] = userID
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
