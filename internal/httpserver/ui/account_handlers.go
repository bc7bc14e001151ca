package ui

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
)

type loginData struct {
	Username string
	Next     string
	Error    string
}

// LoginForm renders the sign-in form.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), "/")
	if _, ok := h.session(r).AccessToken(); ok && r.URL.Query().Get("force") == "" {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	h.render.Page(w, r, http.StatusOK, "login", h.view(r, "Sign in", loginData{Next: next}))
}

// LoginSubmit exchanges credentials for tokens stored in the session.
func (h *Handlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	data := loginData{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Next:     safeNext(r.PostFormValue("next"), "/"),
	}
	if data.Username == "" || r.PostFormValue("password") == "" {
		data.Error = "Enter your username and password."
		h.render.Page(w, r, http.StatusBadRequest, "login", h.view(r, "Sign in", data))
		return
	}

	store := h.store(r)
	err := h.auth.Login(r.Context(), store, data.Username, r.PostFormValue("password"))
	if err != nil {
		status := http.StatusUnauthorized
		data.Error = "Invalid username or password."
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logger(r).Warn("login failed", zap.Error(err))
			status = http.StatusBadGateway
			data.Error = apiclient.Describe(err, apiclient.MsgUnavailable)
		}
		h.render.Page(w, r, status, "login", h.view(r, "Sign in", data))
		return
	}
	if user, err := h.auth.Me(r.Context(), store); err == nil {
		h.flash(r, "Welcome back, "+user.DisplayName()+".")
	}
	custommw.Redirect(w, r, data.Next)
}

type registerData struct {
	Username string
	Email    string
	Errors   map[string]string
	Error    string
}

// RegisterForm renders the sign-up form.
func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render.Page(w, r, http.StatusOK, "register", h.view(r, "Create account", registerData{}))
}

// RegisterSubmit creates the account and signs in.
func (h *Handlers) RegisterSubmit(w http.ResponseWriter, r *http.Request) {
	in := auth.RegisterInput{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	data := registerData{Username: in.Username, Email: in.Email, Errors: map[string]string{}}
	if in.Username == "" {
		data.Errors["username"] = "Choose a username."
	}
	if len(in.Password) < 8 {
		data.Errors["password"] = "Use at least 8 characters."
	}
	if len(data.Errors) > 0 {
		h.render.Page(w, r, http.StatusUnprocessableEntity, "register", h.view(r, "Create account", data))
		return
	}

	if err := h.auth.Register(r.Context(), h.store(r), in); err != nil {
		logger(r).Info("register failed", zap.Error(err))
		if apiErr, ok := apiclient.AsError(err); ok {
			for _, field := range []string{"username", "email", "password"} {
				if msg := apiErr.FieldError(field); msg != "" {
					data.Errors[field] = msg
				}
			}
		}
		data.Error = apiclient.Describe(err, "Could not create your account.")
		h.render.Page(w, r, http.StatusUnprocessableEntity, "register", h.view(r, "Create account", data))
		return
	}
	h.flash(r, "Your account is ready.")
	custommw.Redirect(w, r, "/")
}

// Logout drops the token and the visitor's cart coordinator. The remembered
// email stays for order lookups.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(h.store(r)); err != nil {
		logger(r).Warn("logout failed", zap.Error(err))
	}
	h.carts.Forget(h.session(r).ID())
	h.flash(r, "You have been signed out.")
	custommw.Redirect(w, r, "/")
}
