package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source loads the full device catalog.
type Source interface {
	Load(ctx context.Context) ([]Device, error)
}

// FileSource reads a catalog export in the registry's own field naming.
// JSON and YAML are accepted; the root is either {"devices": [...]} or a
// bare list.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var records []fileRecord
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		records, err = decodeYAML(b)
	default:
		records, err = decodeJSON(b)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", s.Path, err)
	}

	out := make([]Device, 0, len(records))
	for _, r := range records {
		out = append(out, r.device())
	}
	return out, nil
}

type fileRecord struct {
	ID              string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string     `json:"Naam" yaml:"Naam"`
	Latitude        flexString `json:"Latitude" yaml:"Latitude"`
	Longitude       flexString `json:"Longitude" yaml:"Longitude"`
	BatteryPercent  flexString `json:"Batterijstatus (%)" yaml:"Batterijstatus (%)"`
	LastMaintenance string     `json:"Laatste Onderhoud" yaml:"Laatste Onderhoud"`
	Accessibility   string     `json:"Toegankelijkheid" yaml:"Toegankelijkheid"`
}

func (r fileRecord) device() Device {
	return Device{
		ID:              strings.TrimSpace(r.ID),
		Name:            r.Name,
		Latitude:        string(r.Latitude),
		Longitude:       string(r.Longitude),
		BatteryPercent:  string(r.BatteryPercent),
		LastMaintenance: r.LastMaintenance,
		Accessibility:   ParseAccessibility(r.Accessibility),
	}
}

type fileEnvelope struct {
	Devices []fileRecord `json:"devices" yaml:"devices"`
}

func decodeJSON(b []byte) ([]fileRecord, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []fileRecord
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var env fileEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return env.Devices, nil
}

func decodeYAML(b []byte) ([]fileRecord, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	if root.Content[0].Kind == yaml.SequenceNode {
		var list []fileRecord
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var env fileEnvelope
	if err := root.Decode(&env); err != nil {
		return nil, err
	}
	return env.Devices, nil
}

// flexString accepts a JSON string or number; exports are not consistent
// about quoting coordinates.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
