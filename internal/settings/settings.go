// Package settings provides named key-value configuration objects backed by
// a pluggable Store.
package settings

import (
	"fmt"
	"sort"
)

// Configuration object names.
const (
	MailSystem   = "system.mail"
	SinkSettings = "mail_sink.settings"
)

// Keys used within the configuration objects.
const (
	KeyDefaultMailer    = "interface.default"
	KeyFilePath         = "file_path"
	KeyOverridingMailer = "overriding_mailer_id"
)

// Store persists configuration objects by name.
type Store interface {
	// Load returns the stored values of the named object. A missing object
	// yields an empty map, not an error.
	Load(name string) (map[string]string, error)

	// Save replaces the stored values of the named object.
	Save(name string, values map[string]string) error
}

// Object is an editable view of one configuration object. Changes are kept
// in memory until Save is called.
type Object struct {
	name   string
	store  Store
	values map[string]string
}

// Open loads the named object from s.
func Open(s Store, name string) (*Object, error) {
	values, err := s.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return &Object{name: name, store: s, values: values}, nil
}

// Name returns the object name.
func (o *Object) Name() string {
	return o.name
}

// Get returns the value stored under key. Empty values count as absent.
func (o *Object) Get(key string) (string, bool) {
	v, ok := o.values[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Set stores value under key.
func (o *Object) Set(key, value string) *Object {
	o.values[key] = value
	return o
}

// Clear removes key.
func (o *Object) Clear(key string) *Object {
	delete(o.values, key)
	return o
}

// Keys returns the keys currently set, sorted.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.values))
	for k := range o.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the object back to its store.
func (o *Object) Save() error {
	snapshot := make(map[string]string, len(o.values))
	for k, v := range o.values {
		snapshot[k] = v
	}
	if err := o.store.Save(o.name, snapshot); err != nil {
		return fmt.Errorf("failed to save %s: %w", o.name, err)
	}
	return nil
}

// Defaults are the values seeded on first run.
type Defaults struct {
	DefaultMailer string
	FilePath      string
}

// Install seeds keys that are not yet set. Existing values are left alone.
func Install(s Store, d Defaults) error {
	mail, err := Open(s, MailSystem)
	if err != nil {
		return err
	}
	if _, ok := mail.Get(KeyDefaultMailer); !ok && d.DefaultMailer != "" {
		mail.Set(KeyDefaultMailer, d.DefaultMailer)
		if err := mail.Save(); err != nil {
			return err
		}
	}

	sink, err := Open(s, SinkSettings)
	if err != nil {
		return err
	}
	if _, ok := sink.Get(KeyFilePath); !ok && d.FilePath != "" {
		sink.Set(KeyFilePath, d.FilePath)
		if err := sink.Save(); err != nil {
			return err
		}
	}
	return nil
}
