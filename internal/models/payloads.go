package models

import (
	"encoding/json"
)

// Group keys. A task that starts a group blocks every member of that group until it succeeds.

// IdentifiedProfileGroup is started by an identify task and joined by tasks for that profile.
func IdentifiedProfileGroup(identifier string) string {
	return "identified_profile_" + identifier
}

// RegisteredPushTokenGroup is started by a push token registration.
func RegisteredPushTokenGroup(token string) string {
	return "registered_push_token_" + token
}

// IdentifyProfileTaskData creates or updates a profile.
type IdentifyProfileTaskData struct {
	Identifier string          `json:"identifier" validate:"required"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// TrackEventTaskData records a named event against a profile.
type TrackEventTaskData struct {
	Identifier string          `json:"identifier" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty" validate:"gte=0"`
}

// RegisterPushTokenTaskData attaches a device token to a profile.
type RegisterPushTokenTaskData struct {
	ProfileIdentifier string          `json:"profileIdentifier" validate:"required"`
	DeviceToken       string          `json:"deviceToken" validate:"required"`
	Platform          string          `json:"platform,omitempty" validate:"omitempty,oneof=ios android"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	LastUsed          int64           `json:"lastUsed,omitempty" validate:"gte=0"`
}

// DeletePushTokenTaskData detaches a device token from a profile.
type DeletePushTokenTaskData struct {
	ProfileIdentifier string `json:"profileIdentifier" validate:"required"`
	DeviceToken       string `json:"deviceToken" validate:"required"`
}

// PushMetricTaskData reports a push notification lifecycle event.
type PushMetricTaskData struct {
	DeliveryID  string `json:"deliveryId" validate:"required"`
	DeviceToken string `json:"deviceToken" validate:"required"`
	Event       string `json:"event" validate:"required,oneof=delivered opened converted"`
	Timestamp   int64  `json:"timestamp,omitempty" validate:"gte=0"`
}

// DeliveryEventTaskData reports an in-app message delivery event.
type DeliveryEventTaskData struct {
	DeliveryID string            `json:"deliveryId" validate:"required"`
	Event      string            `json:"event" validate:"required,oneof=delivered opened clicked converted"`
	Timestamp  int64             `json:"timestamp,omitempty" validate:"gte=0"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
