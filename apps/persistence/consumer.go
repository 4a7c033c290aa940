package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/schemahub/pkg/db"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
)

// relayMessage mirrors the gateway's broker wrapper.
type relayMessage struct {
	Origin      string            `json:"origin"`
	WorkspaceID string            `json:"workspace_id"`
	Envelope    protocol.Envelope `json:"envelope"`
}

type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session}
}

// Consume drains the workspace-events topic and durably stores the two
// event kinds that outlive a session: attribution commits and saved
// versions. Presence, typing, chat and cursor frames are ephemeral by
// design and skipped.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var relay relayMessage
		if err := json.Unmarshal(m.Value, &relay); err != nil {
			log.Printf("Failed to unmarshal relay message: %v", err)
			continue
		}

		switch relay.Envelope.Type {
		case protocol.EventAttribution:
			c.persistAttribution(relay)
		case protocol.EventVersionRecord:
			c.persistVersion(relay)
		default:
			// Ephemeral event type; nothing to store.
		}
	}
}

func (c *Consumer) persistAttribution(relay relayMessage) {
	payload, err := protocol.DecodePayload(relay.Envelope)
	if err != nil {
		log.Printf("Failed to decode attribution payload: %v", err)
		return
	}
	attr, ok := payload.(model.BlockAttribution)
	if !ok {
		return
	}
	if err := c.db.SaveAttribution(relay.WorkspaceID, attr); err != nil {
		log.Printf("Failed to save attribution %s/%s: %v", relay.WorkspaceID, attr.BlockID, err)
		return
	}
	log.Printf("Attribution saved: %s/%s by %s", relay.WorkspaceID, attr.BlockID, attr.LastEditorID)
}

func (c *Consumer) persistVersion(relay relayMessage) {
	payload, err := protocol.DecodePayload(relay.Envelope)
	if err != nil {
		log.Printf("Failed to decode version payload: %v", err)
		return
	}
	version, ok := payload.(model.SchemaVersion)
	if !ok {
		return
	}
	if err := c.db.SaveVersion(relay.WorkspaceID, version); err != nil {
		log.Printf("Failed to save version %d for %s: %v", version.ID, relay.WorkspaceID, err)
		return
	}
	log.Printf("Version saved: %s/%d by %s", relay.WorkspaceID, version.ID, version.UserID)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
