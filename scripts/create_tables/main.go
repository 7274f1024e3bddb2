package main

import (
	"log"

	"github.com/gocql/gocql"
)

var statements = []string{
	`CREATE KEYSPACE IF NOT EXISTS huddle
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
	`CREATE TABLE IF NOT EXISTS huddle.messages (
		room text,
		id bigint,
		user_name text,
		content text,
		created_at timestamp,
		PRIMARY KEY (room, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS huddle.profiles (
		user_id text PRIMARY KEY,
		display_name text,
		room text
	)`,
	`CREATE TABLE IF NOT EXISTS huddle.profiles_by_room (
		room text,
		user_id text,
		display_name text,
		PRIMARY KEY (room, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS huddle.challenges (
		id bigint PRIMARY KEY,
		title text,
		description text,
		points int
	)`,
	`CREATE TABLE IF NOT EXISTS huddle.user_challenges (
		user_id text,
		challenge_id bigint,
		completed_at timestamp,
		PRIMARY KEY (user_id, challenge_id)
	)`,
}

func main() {
	cluster := gocql.NewCluster("localhost")
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	for _, stmt := range statements {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatal(err)
		}
	}

	log.Println("Keyspace huddle and tables created successfully")
}
