package fakeplatform

import (
	"fmt"
	"html/template"
	mrand "math/rand"
	"net/http"
	"strconv"
)

const pendingCookie = "pending_2fa"

var pages = template.Must(template.New("pages").Parse(`{{define "layout"}}<!DOCTYPE html>
<html><head><title>Platform</title></head><body>{{template "body" .}}</body></html>{{end}}`))

var loginPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<form method="POST" action="/login">
  {{if .Captcha}}<div id="captcha-box" class="captcha">Prove you are human</div>{{end}}
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <input id="username-field" name="username" type="text">
  <input id="password-field" name="password" type="password">
  <button id="login-submit" type="submit">Log in</button>
</form>{{end}}`))

var twoFactorPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<form method="POST" action="/2fa">
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <p id="puzzle-text">{{.Puzzle}}</p>
  <input id="otp-field" name="code" type="text">
  <button id="otp-submit" type="submit">Verify</button>
</form>{{end}}`))

var feedPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "body"}}
<h1 id="feed">Welcome back, {{.Username}}</h1>{{end}}`))

func render(w http.ResponseWriter, t *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	render(w, feedPage, map[string]string{"Username": user.Username})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.sessionUser(r) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	render(w, loginPage, map[string]interface{}{"Captcha": s.opts.Captcha})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok || u.Password != password {
		render(w, loginPage, map[string]interface{}{"Error": "Invalid credentials", "Captcha": s.opts.Captcha})
		return
	}

	if !s.opts.TwoFactor {
		s.startSession(w, u.ID)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	token := randomToken()
	s.mu.Lock()
	s.pending[token] = pendingLogin{userID: u.ID}
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: pendingCookie, Value: token, Path: "/"})
	http.Redirect(w, r, "/2fa", http.StatusFound)
}

func (s *Server) handle2FAPage(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(pendingCookie)
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	num1 := mrand.Intn(20) + 1
	num2 := mrand.Intn(20) + 1
	ops := []string{"+", "-", "*"}
	op := ops[mrand.Intn(len(ops))]

	var answer int
	switch op {
	case "+":
		answer = num1 + num2
	case "-":
		answer = num1 - num2
	case "*":
		answer = num1 * num2
	}

	s.mu.Lock()
	p, ok := s.pending[cookie.Value]
	if ok {
		p.answer = answer
		s.pending[cookie.Value] = p
	}
	s.mu.Unlock()
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	errorMsg := ""
	if r.URL.Query().Get("error") == "true" {
		errorMsg = "Incorrect answer, try again."
	}
	render(w, twoFactorPage, map[string]string{
		"Puzzle": fmt.Sprintf("%d %s %d", num1, op, num2),
		"Error":  errorMsg,
	})
}

func (s *Server) handle2FASubmit(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(pendingCookie)
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	s.mu.Lock()
	p, ok := s.pending[cookie.Value]
	s.mu.Unlock()
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if r.FormValue("code") != strconv.Itoa(p.answer) {
		http.Redirect(w, r, "/2fa?error=true", http.StatusFound)
		return
	}

	s.mu.Lock()
	delete(s.pending, cookie.Value)
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: pendingCookie, Value: "", Path: "/", MaxAge: -1})
	s.startSession(w, p.userID)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusFound)
}
