package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gotransit/internal/storage"
	"gotransit/internal/templates"
)

const (
	// CookieName is the session cookie.
	CookieName     = "gotransit_session"
	cookieMaxAge   = 30 * 24 * 60 * 60 // 30 days in seconds
	timeGateMinSec = 3                  // minimum seconds between form load and submit
	timeGateMaxSec = 60 * 60            // registration forms go stale after an hour
)

// --- Cookie signing / verification ---

// signCookie produces "userID.expiry.hmac" for a session cookie.
func (h *Handler) signCookie(userID int64) string {
	expiry := time.Now().Unix() + cookieMaxAge
	payload := fmt.Sprintf("%d.%d", userID, expiry)
	mac := hmac.New(sha256.New, h.cookieSecret)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return payload + "." + sig
}

// VerifyCookie checks a "userID.expiry.hmac" cookie value.
// Returns userID on success, 0 on failure.
// Exported so middleware can share the same implementation.
func VerifyCookie(value string, secret []byte) int64 {
	parts := strings.SplitN(value, ".", 3)
	if len(parts) != 3 {
		return 0
	}
	payload := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return 0
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return 0
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0
	}
	return userID
}

// verifyCookie is a convenience method that calls the shared VerifyCookie.
func (h *Handler) verifyCookie(value string) int64 {
	return VerifyCookie(value, h.cookieSecret)
}

// setCookie sets the session cookie on the response.
func (h *Handler) setCookie(w http.ResponseWriter, userID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    h.signCookie(userID),
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie removes the session cookie.
func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- Time gate token ---

// timeGateToken creates a signed timestamp token for anti-bot time gating.
func (h *Handler) timeGateToken() string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, h.cookieSecret)
	mac.Write([]byte(ts))
	return ts + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifyTimeGate checks the time gate token. Returns true if valid and enough time has passed.
func (h *Handler) verifyTimeGate(token string) bool {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}
	mac := hmac.New(sha256.New, h.cookieSecret)
	mac.Write([]byte(parts[0]))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	age := time.Now().Unix() - ts
	return age >= timeGateMinSec && age <= timeGateMaxSec
}

// TestSignCookie creates a signed cookie for testing purposes.
// expiryOffset is seconds from now (positive = future, negative = expired).
func TestSignCookie(userID int64, expiryOffset int64, secret []byte) string {
	expiry := time.Now().Unix() + expiryOffset
	payload := fmt.Sprintf("%d.%d", userID, expiry)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return payload + "." + sig
}

// --- Handlers ---

// Login handles GET (show form) and POST (verify credentials).
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.loginPost(w, r)
		return
	}
	h.renderLogin(w, r, "")
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, errMsg string) {
	data := templates.AuthData{
		Page:     h.page(r, "Sign in"),
		IsLogin:  true,
		Error:    errMsg,
		Username: r.FormValue("username"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if errMsg != "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	if err := templates.AuthPage(data).Render(r.Context(), w); err != nil {
		h.logger.Error("rendering login page", "error", err)
	}
}

func (h *Handler) loginPost(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	passphrase := r.FormValue("passphrase")

	if username == "" || passphrase == "" {
		h.renderLogin(w, r, "Username and passphrase are required.")
		return
	}

	user, err := h.Users.GetUserByUsername(r.Context(), username)
	if errors.Is(err, sql.ErrNoRows) {
		h.renderLogin(w, r, "Invalid username or passphrase.")
		return
	}
	if err != nil {
		h.logger.Error("login: db lookup", "error", err)
		h.renderLogin(w, r, "Something went wrong. Please try again.")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PassphraseHash), []byte(passphrase)); err != nil {
		h.renderLogin(w, r, "Invalid username or passphrase.")
		return
	}

	h.setCookie(w, user.ID)
	h.logger.Info("user logged in", "username", username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Register handles GET (show form) and POST (create user).
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.registerPost(w, r)
		return
	}
	h.renderRegister(w, r, "")
}

func (h *Handler) renderRegister(w http.ResponseWriter, r *http.Request, errMsg string) {
	data := templates.AuthData{
		Page:     h.page(r, "Register"),
		IsLogin:  false,
		Error:    errMsg,
		Username: r.FormValue("username"),
		TimeGate: h.timeGateToken(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if errMsg != "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	if err := templates.AuthPage(data).Render(r.Context(), w); err != nil {
		h.logger.Error("rendering register page", "error", err)
	}
}

func (h *Handler) registerPost(w http.ResponseWriter, r *http.Request) {
	// Honeypot: bots fill the hidden "website" field.
	if r.FormValue("website") != "" {
		h.logger.Info("registration rejected: honeypot triggered")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if !h.verifyTimeGate(r.FormValue("ts")) {
		h.renderRegister(w, r, "Please wait a moment before submitting.")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	passphrase := r.FormValue("passphrase")

	if username == "" || passphrase == "" {
		h.renderRegister(w, r, "Username and passphrase are required.")
		return
	}

	if len(username) < 3 || len(username) > 30 {
		h.renderRegister(w, r, "Username must be 3-30 characters.")
		return
	}

	if len(passphrase) < 8 {
		h.renderRegister(w, r, "Passphrase must be at least 8 characters.")
		return
	}

	if h.cfg.MaxUsers > 0 {
		count, err := h.Users.CountUsers(r.Context())
		if err != nil {
			h.logger.Error("registration: count users", "error", err)
			h.renderRegister(w, r, "Something went wrong. Please try again.")
			return
		}
		if count >= h.cfg.MaxUsers {
			h.renderRegister(w, r, "Registration is currently closed.")
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("registration: bcrypt", "error", err)
		h.renderRegister(w, r, "Something went wrong. Please try again.")
		return
	}

	userID, err := h.Users.CreateUser(r.Context(), username, string(hash))
	if errors.Is(err, storage.ErrUsernameTaken) {
		h.renderRegister(w, r, "That username is already taken.")
		return
	}
	if err != nil {
		h.logger.Error("registration: create user", "error", err)
		h.renderRegister(w, r, "Something went wrong. Please try again.")
		return
	}

	h.setCookie(w, userID)
	h.logger.Info("user registered", "username", username, "id", userID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// CookieSecret returns the handler's cookie secret for use by middleware.
func (h *Handler) CookieSecret() []byte {
	return h.cookieSecret
}
