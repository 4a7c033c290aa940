package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/mahaj/schemahub/pkg/db"
)

func main() {
	kafkaBrokersStr := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokersStr == "" {
		kafkaBrokersStr = "localhost:19092"
	}
	brokers := strings.Split(kafkaBrokersStr, ",")

	scyllaHostsStr := os.Getenv("SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	scyllaHosts := strings.Split(scyllaHostsStr, ",")

	topic := "workspace-events"
	groupID := "persistence-service-group"

	// Note: In production, schema creation should be handled by migration
	// tools. For this MVP the service creates keyspace/tables if missing.
	sysSession, err := db.NewSession(scyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS schemahub WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(scyllaHosts, db.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB schemahub keyspace: %v", err)
	}
	defer session.Close()

	if err := session.EnsureSchema(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	consumer := NewConsumer(brokers, topic, groupID, session)
	defer consumer.Close()

	log.Println("Starting persistence consumer...")
	consumer.Consume(context.Background())
}
