package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/DoyleJ11/fake-tasker-backend/internal/client"
	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/DoyleJ11/fake-tasker-backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	codeLength       = 6
	maxCodeAttempts  = 10
	qrSize           = 256
	maxRequestLength = 1 << 16
)

// Defaults seed new sessions when the request leaves a setting unset.
type Defaults struct {
	Settings  engine.Settings
	Tasks     []string
	PublicURL string
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateSession(st store.Store, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decode(w, r, &req) {
			return
		}

		settings := def.Settings
		if req.TasksPerCrewmate != 0 {
			settings.TasksPerCrewmate = req.TasksPerCrewmate
		}
		if req.ImposterCount != 0 {
			settings.ImposterCount = req.ImposterCount
		}
		if req.KillCooldownSeconds != 0 {
			settings.KillCooldownSeconds = req.KillCooldownSeconds
		}
		tasks := def.Tasks
		if req.Tasks != nil {
			tasks = req.Tasks
		}

		var code string
		for range maxCodeAttempts {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			err = client.CreateSession(r.Context(), st, c, req.Creator, settings, tasks)
			if errors.Is(err, store.ErrExists) {
				zap.L().Debug("collision on code, regenerating", zap.String("code", c))
				continue
			}
			if err != nil {
				fail(w, err)
				return
			}
			code = c
			break
		}
		if code == "" {
			http.Error(w, "failed to create session", http.StatusServiceUnavailable)
			return
		}

		zap.L().Info("session created", zap.String("code", code))
		respond(w, r, st, code, def.PublicURL, http.StatusCreated)
	}
}

func JoinSession(st store.Store, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinSessionRequest
		if !decode(w, r, &req) {
			return
		}
		code := strings.ToUpper(chi.URLParam(r, "code"))
		if err := client.JoinSession(r.Context(), st, code, req.Player); err != nil {
			fail(w, err)
			return
		}
		respond(w, r, st, code, def.PublicURL, http.StatusOK)
	}
}

func GetSession(st store.Store, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, r, st, strings.ToUpper(chi.URLParam(r, "code")), def.PublicURL, http.StatusOK)
	}
}

// JoinQR renders the join link for a session as a PNG.
func JoinQR(st store.Store, def Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(chi.URLParam(r, "code"))
		if _, err := st.Get(r.Context(), code); err != nil {
			fail(w, err)
			return
		}
		png, err := qrcode.Encode(joinURL(r, def.PublicURL, code), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "failed to render qr code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func respond(w http.ResponseWriter, r *http.Request, st store.Store, code, publicURL string, status int) {
	snap, err := st.Get(r.Context(), code)
	if err != nil {
		fail(w, err)
		return
	}
	info, err := summarize(snap)
	if err != nil {
		fail(w, err)
		return
	}
	info.JoinURL = joinURL(r, publicURL, code)
	writeJSON(w, status, info)
}

func summarize(snap document.Snapshot) (types.SessionInfo, error) {
	sess, err := snap.Session()
	if err != nil {
		return types.SessionInfo{}, err
	}
	return types.SessionInfo{
		Code:    snap.Code,
		Creator: sess.Creator,
		Players: sess.Players,
		Phase:   engine.DerivePhase(sess).String(),
	}, nil
}

func joinURL(r *http.Request, publicURL, code string) string {
	base := strings.TrimRight(publicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?code=" + code
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestLength)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return false
	}
	return true
}

// StatusFor maps store and validation errors onto HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotCreator):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrLobbyFull), errors.Is(err, engine.ErrWrongPhase),
		errors.Is(err, store.ErrExists), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = "invalid code"
	case http.StatusInternalServerError:
		zap.L().Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
