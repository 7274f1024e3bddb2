package main

import (
	"log"

	"github.com/huddleapp/huddle/pkg/challenge"
	"github.com/huddleapp/huddle/pkg/db"
)

var catalog = []challenge.Challenge{
	{ID: 1, Title: "First post", Description: "Send your first message in any room", Points: 5},
	{ID: 2, Title: "Lunch snap", Description: "Share a photo of today's lunch", Points: 10},
	{ID: 3, Title: "Early bird", Description: "Say good morning before 8am", Points: 10},
	{ID: 4, Title: "Room hopper", Description: "Visit three different rooms in one day", Points: 15},
	{ID: 5, Title: "Full house", Description: "Chat in a room with five people present", Points: 20},
	{ID: 6, Title: "Streak week", Description: "Check in every day for a week", Points: 50},
}

func main() {
	session, err := db.NewSession([]string{"localhost:9042"}, db.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, c := range catalog {
		err := session.Query(
			`INSERT INTO challenges (id, title, description, points) VALUES (?, ?, ?, ?)`,
			c.ID, c.Title, c.Description, c.Points,
		).Exec()
		if err != nil {
			log.Fatalf("Failed to seed challenge %d: %v", c.ID, err)
		}
	}
	log.Printf("Seeded %d challenges", len(catalog))
}
