package www

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tellolink/protocol"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

const maxBodyBytes = 64 << 10

// --- Read-only ---

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AppConfig()
	writeJSON(w, map[string]interface{}{
		"node_id":     cfg.NodeID,
		"drone":       cfg.CommandAddr(),
		"ready":       h.engine.Ready(),
		"busy":        h.engine.Busy(),
		"pending":     h.engine.Pending(),
		"uptime_s":    int64(h.engine.Uptime().Seconds()),
		"sse_clients": h.eventHub.Clients(),
	})
}

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	s, at := h.engine.LastState()
	if at.IsZero() {
		writeError(w, http.StatusNotFound, "no telemetry received")
		return
	}
	writeJSON(w, map[string]interface{}{
		"state":      s,
		"updated_at": at.Format(time.RFC3339Nano),
		"age_ms":     time.Since(at).Milliseconds(),
	})
}

func (h *Handlers) apiListCommands(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}
	list, err := db.ListCommands(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, list)
}

func (h *Handlers) apiGetCommand(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database")
		return
	}
	c, err := db.GetCommand(chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, c)
}

// --- Drone control ---

// apiSendCommand sends one command through the pipeline and waits for it.
// Closing the request stops the wait, not the command.
func (h *Handlers) apiSendCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	res, err := h.engine.Exec(r.Context(), req.Command)
	if err != nil {
		writeJSONStatus(w, http.StatusBadGateway, map[string]string{
			"command": req.Command,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, map[string]string{
		"command": req.Command,
		"kind":    protocol.Classify(req.Command).String(),
		"result":  res,
	})
}

// apiRunSequence validates a JSON array of commands and runs it in the
// background. Progress is visible on /events and /api/commands.
func (h *Handlers) apiRunSequence(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmds, err := protocol.DecodeSequence(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go func() {
		if err := h.engine.RunSequence(h.engine.Context(), cmds); err != nil {
			log.Printf("www: sequence failed: %v", err)
			return
		}
		log.Printf("www: sequence of %d commands complete", len(cmds))
	}()
	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"status":   "accepted",
		"commands": len(cmds),
	})
}

// --- Operator ---

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessions.getUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new password is required")
		return
	}

	user, err := h.engine.DB().GetOperator(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user not found")
		return
	}
	if !checkPassword(req.OldPassword, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := h.engine.DB().SetOperatorPassword(username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update password: %v", err))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
