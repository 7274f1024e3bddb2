package main

import (
	"log"

	"github.com/huddleapp/huddle/pkg/db"
)

func main() {
	session, err := db.NewSession([]string{"localhost:9042"}, db.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	tables := []string{"messages", "profiles", "profiles_by_room", "challenges", "user_challenges"}
	for _, table := range tables {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", table, err)
		}
	}
	log.Println("Tables dropped successfully.")
}
