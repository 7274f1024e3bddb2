package main

import (
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceHandler lists the users currently connected to a room.
// Route: /rooms/{room}/users
func PresenceHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "rooms" || parts[2] != "users" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		roomKey := parts[1]

		users, err := rdb.SMembers(r.Context(), "room:"+roomKey+":users").Result()
		if err != nil {
			zap.L().Error("presence lookup failed", zap.String("room", roomKey), zap.Error(err))
			http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
			return
		}
		if users == nil {
			users = []string{}
		}

		writeJSON(w, http.StatusOK, users)
	}
}
