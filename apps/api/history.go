package main

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/profile"
	"github.com/huddleapp/huddle/pkg/store"
)

// HistoryHandler returns a room's full message history in canonical order.
// Without an explicit ?room= the caller's profile room is used.
func HistoryHandler(messages store.Store, profiles *profile.Store) http.HandlerFunc {
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

		history, err := messages.LoadHistory(r.Context(), roomKey)
		if err != nil {
			zap.L().Error("history load failed", zap.String("room", roomKey), zap.Error(err))
			http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
			return
		}
		if history == nil {
			history = []model.Message{}
		}

		writeJSON(w, http.StatusOK, history)
	}
}
