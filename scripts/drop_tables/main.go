package main

import (
	"log"

	"github.com/mahaj/schemahub/pkg/db"
)

func main() {
	scyllaHosts := []string{"localhost:9042"}

	session, err := db.NewSession(scyllaHosts, db.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"attributions", "schema_versions"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table: %v", err)
		}
	}
	log.Println("Tables dropped successfully.")
}
