package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/auth"
	"github.com/huddleapp/huddle/pkg/profile"
)

type LoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Room  string `json:"room"`
}

// LoginHandler issues a session token and upserts the user's profile. A
// returning user keeps their room; a new user starts in the default room.
func LoginHandler(profiles *profile.Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.DisplayName) == "" {
			req.DisplayName = req.UserID
		}

		p, err := profiles.Get(r.Context(), req.UserID)
		if errors.Is(err, profile.ErrNotFound) {
			p = profile.Profile{UserID: req.UserID, Room: profile.DefaultRoom}
		} else if err != nil {
			zap.L().Error("profile lookup failed", zap.Error(err))
			http.Error(w, "Login failed", http.StatusInternalServerError)
			return
		}
		p.DisplayName = req.DisplayName

		if err := profiles.Put(r.Context(), p); err != nil {
			zap.L().Error("profile upsert failed", zap.Error(err))
			http.Error(w, "Login failed", http.StatusInternalServerError)
			return
		}

		token, err := tokens.Generate(p.UserID, p.DisplayName)
		if err != nil {
			zap.L().Error("token generation failed", zap.Error(err))
			http.Error(w, "Login failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{Token: token, Room: p.Room})
	}
}
