// Command migrate copies everything from the JSON file store into
// PostgreSQL, for promoting a local deployment to a database-backed one.
package main

import (
	"log"
	"os"

	"pretalx-rt-sync/database"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	dataPath := "data/store.json"
	if len(os.Args) > 1 {
		dataPath = os.Args[1]
	}
	if _, err := os.Stat(dataPath); err != nil {
		log.Fatalf("cannot read store file %s: %v", dataPath, err)
	}

	source, err := database.NewFileStore(dataPath)
	if err != nil {
		log.Fatalf("failed to open file store: %v", err)
	}
	defer source.Close()

	target, err := database.NewPostgresStore(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer target.Close()

	migrated := 0

	settings, err := source.ListEventSettings()
	if err != nil {
		log.Fatalf("failed to list event settings: %v", err)
	}
	for _, s := range settings {
		if err := target.SaveEventSettings(s); err != nil {
			log.Printf("skipping settings for event %d: %v", s.EventID, err)
			continue
		}
		migrated++
	}
	log.Printf("migrated %d event settings", migrated)

	migrated = 0
	for _, s := range settings {
		tickets, err := source.ListEventTickets(s.EventID)
		if err != nil {
			log.Printf("failed to list tickets for event %d: %v", s.EventID, err)
			continue
		}
		for _, t := range tickets {
			t.ID = 0
			if _, err := target.CreateTicket(t); err != nil {
				log.Printf("skipping ticket %d/%d: %v", t.EventID, t.RemoteID, err)
				continue
			}
			migrated++
		}
	}
	log.Printf("migrated %d tickets", migrated)

	log.Println("migration completed; set DATABASE_URL on the service and restart")
}
