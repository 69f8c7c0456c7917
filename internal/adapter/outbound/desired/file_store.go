// Package desired loads the desired-state spec from a YAML file.
package desired

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/seatswap/internal/config"
	"github.com/Sentinel-Gate/seatswap/internal/domain/desired"
)

// maxSpecSize bounds the spec file read. A real spec is a handful of lines.
const maxSpecSize = 1 << 20

// specFile is the on-disk layout:
//
//	entries:
//	  - add: CAS CS111 A1
//	    replace: CAS CS111 A2
//	  - add: CAS WR120 B3
type specFile struct {
	Entries []entryFile `yaml:"entries" validate:"dive"`
}

type entryFile struct {
	Add     string `yaml:"add" validate:"required,course_abbr"`
	Replace string `yaml:"replace" validate:"omitempty,course_abbr"`
}

// FileStore implements desired.Store over a YAML file. The file is re-read
// on every Load so edits take effect on the next cycle.
type FileStore struct {
	path     string
	validate *validator.Validate
}

var _ desired.Store = (*FileStore)(nil)

// NewFileStore creates a FileStore reading path.
func NewFileStore(path string) (*FileStore, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := config.RegisterCustomValidators(v); err != nil {
		return nil, err
	}
	return &FileStore{path: path, validate: v}, nil
}

// Path returns the spec file path.
func (s *FileStore) Path() string { return s.path }

// Load implements desired.Store. A missing file is an error: the loop keeps
// its previous spec and reports it.
func (s *FileStore) Load(ctx context.Context) (desired.Spec, error) {
	if err := ctx.Err(); err != nil {
		return desired.Spec{}, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return desired.Spec{}, fmt.Errorf("open desired state: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxSpecSize+1))
	if err != nil {
		return desired.Spec{}, fmt.Errorf("read desired state: %w", err)
	}
	if len(data) > maxSpecSize {
		return desired.Spec{}, fmt.Errorf("desired state %s exceeds %d bytes", s.path, maxSpecSize)
	}
	return s.Parse(data)
}

// Parse decodes and validates a spec document. Unknown keys are rejected so
// a typo such as "replcae" does not silently turn a swap into an add.
func (s *FileStore) Parse(data []byte) (desired.Spec, error) {
	var file specFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return desired.Spec{}, fmt.Errorf("parse desired state: %w", err)
	}
	if err := s.validate.Struct(&file); err != nil {
		return desired.Spec{}, fmt.Errorf("invalid desired state: %w", config.FormatValidationErrors(err))
	}

	spec := desired.Spec{Entries: make([]desired.Entry, 0, len(file.Entries))}
	seen := make(map[string]int, len(file.Entries))
	for i, e := range file.Entries {
		entry, err := desired.NewEntry(e.Add, e.Replace)
		if err != nil {
			return desired.Spec{}, fmt.Errorf("entries[%d]: %w", i, err)
		}
		if j, dup := seen[entry.Add.String()]; dup {
			return desired.Spec{}, fmt.Errorf("entries[%d]: %s is already the target of entries[%d]", i, entry.Add, j)
		}
		seen[entry.Add.String()] = i
		spec.Entries = append(spec.Entries, entry)
	}
	return spec, nil
}
