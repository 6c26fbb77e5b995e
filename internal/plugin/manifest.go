package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Manifest describes a plugin's identity, entry point, and requirements.
// Immutable once loaded; the manager clones it before handing it out.
type Manifest struct {
	// Identity
	ID          string `json:"id" validate:"required"`
	Version     string `json:"version" validate:"required,semver"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Homepage    string `json:"homepage" validate:"omitempty,url"`

	// Entry point: a Lua script relative to the plugin directory, or the
	// name of a registered native factory. Exactly one must be set; Main
	// defaults to "init.lua" when both are empty.
	Main   string `json:"main,omitempty"`
	Native string `json:"native,omitempty"`

	// Permissions requested
	Permissions []Permission `json:"permissions,omitempty"`

	// Features declares what the plugin offers; paid features are gated
	// by the license validator before the plugin can be enabled.
	Features []Feature `json:"features,omitempty" validate:"dive"`

	// Configuration schema
	ConfigSchema map[string]ConfigProperty `json:"configSchema,omitempty"`

	// Internal: path to the plugin directory
	dir string
}

// Permission names a capability a plugin may request.
type Permission string

// Known permissions.
const (
	// PermissionNetwork grants the outbound HTTP facade and the Lua
	// network surface.
	PermissionNetwork Permission = "network"

	// PermissionFileRead and PermissionFileWrite gate the Lua io library.
	PermissionFileRead  Permission = "filesystem.read"
	PermissionFileWrite Permission = "filesystem.write"

	// PermissionShell gates the Lua os library.
	PermissionShell Permission = "shell"
)

// validPermissions are the known permission values.
var validPermissions = map[Permission]bool{
	PermissionNetwork:   true,
	PermissionFileRead:  true,
	PermissionFileWrite: true,
	PermissionShell:     true,
}

// Feature declares one capability the plugin offers.
type Feature struct {
	Name        string `json:"name" validate:"required"`
	Paid        bool   `json:"paid"`
	Description string `json:"description,omitempty"`
}

// ConfigProperty describes a configuration option.
type ConfigProperty struct {
	Type        string   `json:"type"`
	Default     any      `json:"default"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Validation errors.
var (
	ErrInvalidID         = errors.New("manifest: id must be dot-separated lowercase segments")
	ErrInvalidPermission = errors.New("manifest: invalid permission")
	ErrInvalidEntry      = errors.New("manifest: main and native are mutually exclusive")
	ErrInvalidMain       = errors.New("manifest: main must be a .lua file")
	ErrInvalidConfigType = errors.New("manifest: invalid config property type")
)

// idPattern validates plugin IDs like "com.example.formatter".
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$`)

// validConfigTypes are the allowed configuration property types.
var validConfigTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// validate holds the struct validator shared by all manifests.
var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadManifest loads and validates a plugin manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m.dir = filepath.Dir(path)
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads plugin.json from a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, "plugin.json"))
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" && m.Native == "" {
		m.Main = "init.lua"
	}
}

// Validate checks that the manifest is well formed.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("manifest %q: %w", m.ID, err)
	}

	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}

	if m.Main != "" && m.Native != "" {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, m.ID)
	}
	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	for _, p := range m.Permissions {
		if !validPermissions[p] {
			return fmt.Errorf("%w: %s", ErrInvalidPermission, p)
		}
	}

	for name, prop := range m.ConfigSchema {
		if prop.Type != "" && !validConfigTypes[prop.Type] {
			return fmt.Errorf("%w: %s.%s has type %q", ErrInvalidConfigType, m.ID, name, prop.Type)
		}
	}
	return nil
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// MainPath returns the full path to the Lua entry point.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.dir, m.Main)
}

// HasPermission reports whether the manifest requests the permission.
func (m *Manifest) HasPermission(p Permission) bool {
	for _, have := range m.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// PaidFeatures returns the names of all features flagged as paid.
func (m *Manifest) PaidFeatures() []string {
	var paid []string
	for _, f := range m.Features {
		if f.Paid {
			paid = append(paid, f.Name)
		}
	}
	return paid
}

// HasPaidFeatures reports whether any declared feature is gated.
func (m *Manifest) HasPaidFeatures() bool {
	return len(m.PaidFeatures()) > 0
}

// ConfigDefaults returns the default value for every schema property that
// declares one, keyed by property name (dot paths allowed).
func (m *Manifest) ConfigDefaults() map[string]any {
	defaults := make(map[string]any)
	for key, prop := range m.ConfigSchema {
		if prop.Default != nil {
			defaults[key] = prop.Default
		}
	}
	return defaults
}

// String returns "name vVersion" for logs.
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.ID
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = make([]Permission, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}
	if m.Features != nil {
		clone.Features = make([]Feature, len(m.Features))
		copy(clone.Features, m.Features)
	}
	if m.ConfigSchema != nil {
		clone.ConfigSchema = make(map[string]ConfigProperty, len(m.ConfigSchema))
		for k, v := range m.ConfigSchema {
			clone.ConfigSchema[k] = v
		}
	}
	return &clone
}
