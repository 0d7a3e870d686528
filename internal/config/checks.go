package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/convomesh/sentinel/internal/domain"
)

type checksFile struct {
	Instances []instanceSpec `json:"instances"`
}

type instanceSpec struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Enabled *bool       `json:"enabled"`
	Tags    []string    `json:"tags"`
	Checks  []checkSpec `json:"checks"`
}

type checkSpec struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Severity    string              `json:"severity"`
	Enabled     *bool               `json:"enabled"`
	Interval    int                 `json:"interval_seconds"`
	Timeout     int                 `json:"timeout_seconds"`
	URL         string              `json:"url"`
	Method      string              `json:"method"`
	Headers     map[string]string   `json:"headers"`
	Body        string              `json:"body"`
	Expect      []domain.ExpectRule `json:"expect"`
	JourneyMode string              `json:"journey_mode"`
}

// LoadChecks reads and validates the YAML check definition file. Validation
// failures are fatal at load; nothing malformed reaches the scheduler.
func LoadChecks(path string) ([]domain.Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checks file: %w", err)
	}
	var f checksFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse checks file: %w", err)
	}
	if len(f.Instances) == 0 {
		return nil, fmt.Errorf("checks file %s defines no instances", path)
	}

	out := make([]domain.Instance, 0, len(f.Instances))
	for _, is := range f.Instances {
		if is.ID == "" || is.Name == "" {
			return nil, fmt.Errorf("instance missing id or name (id=%q)", is.ID)
		}
		inst := domain.Instance{
			ID:      is.ID,
			Name:    is.Name,
			Enabled: boolOr(is.Enabled, true),
			Tags:    is.Tags,
		}
		for _, cs := range is.Checks {
			def, err := validateCheck(is.ID, cs)
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", is.ID, err)
			}
			inst.Checks = append(inst.Checks, def)
		}
		out = append(out, inst)
	}
	return out, nil
}

func validateCheck(instanceID string, cs checkSpec) (domain.CheckDefinition, error) {
	var zero domain.CheckDefinition
	if cs.ID == "" || cs.Name == "" || cs.Type == "" {
		return zero, fmt.Errorf("check %q: id, name and type are required", cs.ID)
	}
	typ := domain.CheckType(cs.Type)
	switch typ {
	case domain.CheckHTTP, domain.CheckWSS, domain.CheckJourney, domain.CheckRoomEcho:
	default:
		return zero, fmt.Errorf("check %s: unknown type %q", cs.ID, cs.Type)
	}
	if cs.URL == "" && typ != domain.CheckJourney && typ != domain.CheckRoomEcho {
		return zero, fmt.Errorf("check %s: url is required for type %s", cs.ID, typ)
	}
	sev := domain.Severity(cs.Severity)
	switch sev {
	case "":
		sev = domain.SeverityCritical
	case domain.SeverityCritical, domain.SeverityOptional:
	default:
		return zero, fmt.Errorf("check %s: severity must be critical or optional, got %q", cs.ID, cs.Severity)
	}
	for _, r := range cs.Expect {
		if r.Type != "status_code" && r.Type != "json" {
			return zero, fmt.Errorf("check %s: unknown expect rule type %q", cs.ID, r.Type)
		}
	}
	if cs.JourneyMode != "" && cs.JourneyMode != "basic" && cs.JourneyMode != "advanced" {
		return zero, fmt.Errorf("check %s: journey_mode must be basic or advanced", cs.ID)
	}
	interval := cs.Interval
	if interval <= 0 {
		interval = 60
	}
	return domain.CheckDefinition{
		InstanceID:      instanceID,
		ID:              cs.ID,
		Name:            cs.Name,
		Type:            typ,
		Severity:        sev,
		Enabled:         boolOr(cs.Enabled, true),
		IntervalSeconds: interval,
		TimeoutSeconds:  cs.Timeout,
		URL:             cs.URL,
		Method:          cs.Method,
		Headers:         cs.Headers,
		Body:            cs.Body,
		Expect:          cs.Expect,
		JourneyMode:     cs.JourneyMode,
	}, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
