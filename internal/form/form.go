// Package form implements the mail sink settings form: default values,
// validation and submission. Rendering is left to the host (CLI, admin API).
package form

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/shineum/mail-sink/internal/fsutil"
	"github.com/shineum/mail-sink/internal/settings"
	"github.com/shineum/mail-sink/internal/toggle"
)

// ID identifies the form.
const ID = "mail_sink_settings"

// Field names.
const (
	FieldEnabled  = "enabled"
	FieldFilePath = "file_path"
)

// Values are the submitted (or default) field values.
type Values struct {
	Enabled  bool   `json:"enabled"`
	FilePath string `json:"file_path"`
}

// Form reads and writes the sink settings.
type Form struct {
	store  settings.Store
	toggle *toggle.Controller
}

// New creates a Form.
func New(store settings.Store, ctrl *toggle.Controller) *Form {
	return &Form{store: store, toggle: ctrl}
}

// Build returns the current state as default field values.
func (f *Form) Build() (Values, error) {
	active, err := f.toggle.IsSinkActive()
	if err != nil {
		return Values{}, err
	}
	sink, err := settings.Open(f.store, settings.SinkSettings)
	if err != nil {
		return Values{}, err
	}
	path, _ := sink.Get(settings.KeyFilePath)
	return Values{Enabled: active, FilePath: path}, nil
}

// Validate checks v. When the sink is being enabled, the log file is
// created if missing, as the sink will need it anyway.
func (f *Form) Validate(v Values) Errors {
	var errs Errors

	path := strings.TrimSpace(v.FilePath)
	if path == "" {
		errs.add(FieldFilePath, "Path to Log File field is required.", nil)
		return errs
	}
	if !v.Enabled {
		return errs
	}

	dir := fsutil.Dirname(path)
	if err := fsutil.PrepareDirectory(dir, fsutil.CreateDirectory|fsutil.ModifyPermissions); err != nil {
		errs.add(FieldFilePath, `We could not create the directory "@path"`, map[string]string{"@path": dir})
		return errs
	}

	if !ensureFile(path) {
		errs.add(FieldFilePath, "Could not create log file @log", map[string]string{"@log": path})
		return errs
	}
	if !fsutil.Writable(path) {
		errs.add(FieldFilePath, "The log file @log is not writable by the server", map[string]string{"@log": path})
	}
	return errs
}

// Submit applies v: the sink is toggled first, then the file path saved.
// Callers are expected to have validated v.
func (f *Form) Submit(v Values) error {
	if err := f.toggle.SetSinkState(v.Enabled); err != nil {
		return err
	}

	sink, err := settings.Open(f.store, settings.SinkSettings)
	if err != nil {
		return err
	}
	sink.Set(settings.KeyFilePath, strings.TrimSpace(v.FilePath))
	return sink.Save()
}

// Process validates v and submits it when valid. Validation errors are
// returned separately from persistence errors.
func (f *Form) Process(v Values) (Errors, error) {
	if errs := f.Validate(v); len(errs) > 0 {
		return errs, nil
	}
	return nil, f.Submit(v)
}

// ensureFile reports whether path exists, creating it when it does not.
func ensureFile(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false
	}
	fh.Close()
	return true
}
