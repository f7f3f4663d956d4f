package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/model"
)

// ErrNoIdentity is returned when an agent definition carries no identity
// block at all. Callers treat this as the anonymous system caller, not a
// failure.
var ErrNoIdentity = errors.New("identity: no identity record present")

// SystemAgentName is the name assigned to the anonymous system caller.
const SystemAgentName = "system"

// AgentIdentity is a parsed, immutable identity record.
type AgentIdentity struct {
	AgentID        string     `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Name           string     `yaml:"name" json:"name"`
	Role           model.Role `yaml:"role" json:"role"`
	CapabilityTags []string   `yaml:"capability_tags,omitempty" json:"capability_tags,omitempty"`
	IssuedAt       time.Time  `yaml:"issued_at,omitempty" json:"issued_at"`
}

// SystemIdentity returns the identity used for callers with no identity
// block. It has no agent ID and the coordinator role.
func SystemIdentity() *AgentIdentity {
	return &AgentIdentity{
		Name:     SystemAgentName,
		Role:     model.RoleCoordinator,
		IssuedAt: time.Now().UTC(),
	}
}

// ParseRecord parses a declarative identity block. A wholly absent block
// yields ErrNoIdentity. A present but malformed agent_id is a hard
// rejection: a record that half-identifies itself is worse than an
// anonymous one.
func ParseRecord(data []byte) (*AgentIdentity, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrNoIdentity
	}

	var id AgentIdentity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("identity: parse record: %w", err)
	}

	if id.AgentID == "" && id.Name == "" && id.Role == "" {
		return nil, ErrNoIdentity
	}

	if id.AgentID != "" {
		u, err := uuid.Parse(id.AgentID)
		if err != nil || u.Version() != 4 {
			return nil, model.NewValidationError("agent_id", "%q is not a valid UUIDv4", id.AgentID)
		}
	}

	if id.IssuedAt.IsZero() {
		id.IssuedAt = time.Now().UTC()
	}
	return &id, nil
}
