package main

import (
	"log"

	"github.com/gocql/gocql"

	"github.com/mahaj/schemahub/pkg/db"
)

func main() {
	cluster := gocql.NewCluster("localhost")
	cluster.Keyspace = "system"
	cluster.Consistency = gocql.Quorum
	sysSession, err := cluster.CreateSession()
	if err != nil {
		log.Fatal(err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS schemahub WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatal(err)
	}
	sysSession.Close()

	session, err := db.NewSession([]string{"localhost:9042"}, db.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	if err := session.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	log.Println("Tables attributions and schema_versions created successfully")
}
