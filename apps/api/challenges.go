package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/challenge"
	"github.com/huddleapp/huddle/pkg/profile"
)

// ChallengesHandler lists the challenges the caller has not completed yet.
func ChallengesHandler(challenges *challenge.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		open, err := challenges.ListOpen(r.Context(), claims.UserID)
		if err != nil {
			zap.L().Error("challenge list failed", zap.Error(err))
			http.Error(w, "Failed to list challenges", http.StatusInternalServerError)
			return
		}
		if open == nil {
			open = []challenge.Challenge{}
		}

		writeJSON(w, http.StatusOK, open)
	}
}

type CompleteRequest struct {
	ChallengeID int64  `json:"challenge_id"`
	PhotoURL    string `json:"photo_url"`
	Caption     string `json:"caption"`
}

// CompleteHandler records a completion and queues its room announcement.
func CompleteHandler(challenges *challenge.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		ev, err := challenges.Complete(r.Context(), claims.UserID, req.ChallengeID, req.PhotoURL, req.Caption)
		switch {
		case errors.Is(err, challenge.ErrUnknownChallenge):
			http.Error(w, "Unknown challenge", http.StatusNotFound)
			return
		case errors.Is(err, challenge.ErrAlreadyCompleted):
			http.Error(w, "Challenge already completed", http.StatusConflict)
			return
		case err != nil:
			zap.L().Error("challenge completion failed", zap.Error(err))
			http.Error(w, "Failed to complete challenge", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, ev)
	}
}

// LeaderboardHandler returns per-user points for a room, highest first.
func LeaderboardHandler(challenges *challenge.Service, profiles *profile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		roomKey := r.URL.Query().Get("room")
		if roomKey == "" {
			p, err := profiles.Get(r.Context(), claims.UserID)
			if errors.Is(err, profile.ErrNotFound) {
				roomKey = profile.DefaultRoom
			} else if err != nil {
				zap.L().Error("profile lookup failed", zap.Error(err))
				http.Error(w, "Failed to resolve room", http.StatusInternalServerError)
				return
			} else {
				roomKey = p.Room
			}
		}

		entries, err := challenges.Leaderboard(r.Context(), roomKey)
		if err != nil {
			zap.L().Error("leaderboard failed", zap.String("room", roomKey), zap.Error(err))
			http.Error(w, "Failed to build leaderboard", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []challenge.Entry{}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}
