package mq

import (
	"context"
	"encoding/json"
	"strconv"
)

// Registry event actions published after successful animal mutations.
const (
	ActionAnimalCreated = "animal.created"
	ActionAnimalUpdated = "animal.updated"
	ActionAnimalDeleted = "animal.deleted"
)

// RegistryEvent is the payload published to the registry channel.
type RegistryEvent struct {
	Action   string `json:"action"`
	AnimalID int    `json:"animal_id"`
}

// EventPublisher publishes registry events to a fixed channel.
// A nil EventPublisher is valid and publishes nothing.
type EventPublisher struct {
	mq      *MQ
	channel string
}

// NewEventPublisher constructs a publisher over the given broker.
func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

// PublishAnimalEvent sends a registry event. Publishing is best-effort:
// callers log failures but never surface them to clients.
func (p *EventPublisher) PublishAnimalEvent(ctx context.Context, action string, animalID int) error {
	if p == nil || p.mq == nil {
		return nil
	}

	data, err := json.Marshal(RegistryEvent{Action: action, AnimalID: animalID})
	if err != nil {
		return err
	}

	attrs := map[string]string{
		"action":    action,
		"animal_id": strconv.Itoa(animalID),
	}
	_, err = p.mq.Publish(ctx, p.channel, data, attrs)
	return err
}
