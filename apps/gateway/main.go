package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/mahaj/schemahub/pkg/db"
)

func main() {
	f, err := os.OpenFile("gateway.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}
	defer f.Close()
	log.SetOutput(f)

	kafkaBrokersStr := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokersStr == "" {
		kafkaBrokersStr = "localhost:19092"
	}
	kafkaBrokers := strings.Split(kafkaBrokersStr, ",")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	gatewayID := os.Getenv("GATEWAY_ID")
	if gatewayID == "" {
		hostname, _ := os.Hostname()
		gatewayID = "gateway-" + hostname
	}

	scyllaHostsStr := os.Getenv("SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	scyllaHosts := strings.Split(scyllaHostsStr, ",")

	// Attribution snapshots for newly opened rooms come from ScyllaDB; the
	// gateway still serves live traffic if the cluster is down.
	store, err := db.NewSession(scyllaHosts, db.Keyspace)
	if err != nil {
		log.Printf("ScyllaDB unavailable, rooms start without persisted attributions: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	kafkaTopic := "workspace-events"

	hub := NewHub(gatewayID, kafkaBrokers, kafkaTopic, redisAddr, store)
	go hub.Run()

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	log.Println("Gateway Service Starting on :8080...")
	if err := http.ListenAndServe(":8080", nil); err != nil {
		log.Fatal(err)
	}
}
