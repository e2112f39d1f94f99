// Package statusdecode decodes a yadt-status response: JSON first, falling
// back to YAML on parse failure. It also normalizes the obsolete
// list-of-single-entry-maps "services" form into a map before the typed
// component.HostRecord is unmarshaled, since both encodings can carry the
// legacy shape.
package statusdecode

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/shepherd/pkg/component"
)

// Decode parses raw yadt-status stdout into a HostRecord, trying JSON first
// and falling back to YAML. Either decoder's raw map is normalized before
// being re-marshaled into the typed record, since the legacy "services as a
// list" shape survives in both encodings.
func Decode(raw []byte) (component.HostRecord, error) {
	if rec, err := decodeJSON(raw); err == nil {
		return rec, nil
	}
	rec, yamlErr := decodeYAML(raw)
	if yamlErr != nil {
		return component.HostRecord{}, fmt.Errorf("statusdecode: neither JSON nor YAML parsed: %w", yamlErr)
	}
	return rec, nil
}

func decodeJSON(raw []byte) (component.HostRecord, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return component.HostRecord{}, err
	}
	component.NormalizeServices(generic)
	normalized, err := json.Marshal(generic)
	if err != nil {
		return component.HostRecord{}, err
	}
	var rec component.HostRecord
	if err := json.Unmarshal(normalized, &rec); err != nil {
		return component.HostRecord{}, err
	}
	return rec, nil
}

func decodeYAML(raw []byte) (component.HostRecord, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return component.HostRecord{}, err
	}
	component.NormalizeServices(generic)
	normalized, err := yaml.Marshal(generic)
	if err != nil {
		return component.HostRecord{}, err
	}
	var rec component.HostRecord
	if err := yaml.Unmarshal(normalized, &rec); err != nil {
		return component.HostRecord{}, err
	}
	return rec, nil
}
