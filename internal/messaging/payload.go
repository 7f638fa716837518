package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"campaign-delivery/internal/model"
)

// DispatchRequest asks a worker to send one queued message.
type DispatchRequest struct {
	MessageID uuid.UUID `json:"messageId"`
}

// SyntheticStatus is a status change emitted on behalf of a provider that
// does not report it.
type SyntheticStatus struct {
	MessageID  uuid.UUID    `json:"messageId"`
	TenantID   uuid.UUID    `json:"tenantId"`
	CampaignID uuid.UUID    `json:"campaignId"`
	NewStatus  model.Status `json:"newStatus"`

	// ProviderMessageID pins the event to the send attempt that scheduled it.
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

var dispatchSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["messageId"],
	"properties": {
		"messageId": {"type": "string", "pattern": "` + uuidPattern + `"}
	}
}`

var statusSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["messageId", "newStatus"],
	"properties": {
		"messageId":  {"type": "string", "pattern": "` + uuidPattern + `"},
		"tenantId":   {"type": "string", "pattern": "` + uuidPattern + `"},
		"campaignId": {"type": "string", "pattern": "` + uuidPattern + `"},
		"newStatus":  {"enum": ["sent", "delivered", "read", "failed"]},
		"providerMessageId": {"type": "string", "minLength": 1}
	}
}`

var (
	dispatchSchema = mustCompile("dispatch.json", dispatchSchemaDoc)
	statusSchema   = mustCompile("status_event.json", statusSchemaDoc)
)

func mustCompile(name, doc string) *jsonschema.Schema {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("messaging: parse schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, parsed); err != nil {
		panic(fmt.Sprintf("messaging: add schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

func validate(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("payload rejected: %w", err)
	}
	return nil
}

// DecodeDispatch validates and decodes a campaign_dispatch payload.
func DecodeDispatch(body []byte) (DispatchRequest, error) {
	var req DispatchRequest
	if err := validate(dispatchSchema, body); err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeSyntheticStatus validates and decodes a status_events payload.
func DecodeSyntheticStatus(body []byte) (SyntheticStatus, error) {
	var ev SyntheticStatus
	if err := validate(statusSchema, body); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}

func EncodeDispatch(messageID uuid.UUID) ([]byte, error) {
	return json.Marshal(DispatchRequest{MessageID: messageID})
}
