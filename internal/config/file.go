package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor CUE.
var ErrUnsupportedFormat = errors.New("unsupported config format")

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		return DecodeYAML(data, cfg)
	case ".cue":
		return DecodeCUE(data, path, cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// DecodeYAML overlays the YAML document in data onto cfg. Unknown keys are
// an error.
func DecodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml config: %w", err)
	}
	return nil
}

// DecodeCUE unifies the CUE document in data with the embedded schema and
// overlays the result onto cfg. Schema violations report CUE positions.
func DecodeCUE(data []byte, filename string, cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("compile %s: %s", filename, cueerrors.Details(err, nil))
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %s", filename, cueerrors.Details(err, nil))
	}

	raw, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export %s: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}
