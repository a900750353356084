package gpio

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/line-profile-v1.json
var lineProfileSchemaJSON string

// LineProfile maps the line's field signals to GPIO pin numbers.
type LineProfile struct {
	CounterPin  int `yaml:"counter_pin" json:"counter_pin"`
	PonderalPin int `yaml:"ponderal_pin" json:"ponderal_pin"`
	EtiquetaPin int `yaml:"etiqueta_pin" json:"etiqueta_pin"`
}

// LoadProfile reads and validates the pin profile document. The three pins
// must be distinct: a shared pin would make edge attribution ambiguous.
func LoadProfile(path string) (*LineProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read line profile: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in line profile: %w", err)
	}

	if err := validateProfile(raw); err != nil {
		return nil, fmt.Errorf("line profile %s: %w", path, err)
	}

	var profile LineProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal line profile: %w", err)
	}

	if profile.CounterPin == profile.PonderalPin ||
		profile.CounterPin == profile.EtiquetaPin ||
		profile.PonderalPin == profile.EtiquetaPin {
		return nil, fmt.Errorf("line profile %s: pins must be distinct (counter=%d ponderal=%d etiqueta=%d)",
			path, profile.CounterPin, profile.PonderalPin, profile.EtiquetaPin)
	}

	return &profile, nil
}

func validateProfile(raw map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("line-profile-v1.json",
		strings.NewReader(lineProfileSchemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("line-profile-v1.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	// jsonschema validates JSON-shaped values; round-trip the YAML document
	// so numbers and keys carry JSON types.
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return fmt.Errorf("invalid profile document: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
