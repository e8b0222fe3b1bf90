// Package secrets reads deployment configuration from a flat key-value
// YAML document. Lookups never fail hard: a missing file, key, or
// malformed value falls back to the caller-supplied default, so the
// policy gate keeps working with its hardcoded constants when the
// config source is unavailable.
package secrets

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Well-known keys consumed by the authentication gate.
const (
	KeyExpirationDays = "password_expiration_days"
	KeyPolicyTimezone = "policy_timezone"
	KeyWebhookURL     = "notifier_webhook_url"
)

// Document is an immutable set of string key-value pairs.
type Document struct {
	values map[string]string
}

// Static builds a document from an in-memory map. A nil map yields an
// empty document whose lookups all fall back to defaults.
func Static(values map[string]string) *Document {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Document{values: copied}
}

// Load reads the YAML document at path. A missing file is not an
// error — it yields an empty document — but a file that exists and
// cannot be parsed is.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Static(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets document: %w", err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing secrets document %s: %w", path, err)
	}
	values := make(map[string]string, len(parsed))
	for k, v := range parsed {
		if v == nil {
			continue
		}
		values[k] = fmt.Sprint(v)
	}
	return Static(values), nil
}

// Lookup returns the raw value for key and whether it was present.
func (d *Document) Lookup(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// String returns the value for key, or def when absent or empty.
func (d *Document) String(key, def string) string {
	if v, ok := d.Lookup(key); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when absent or not a
// valid integer.
func (d *Document) Int(key string, def int) int {
	v, ok := d.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
