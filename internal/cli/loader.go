package cli

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

//go:embed show_schema.cue
var showSchema string

// Error code constants, shared by all commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeParseFailed  = "E006" // Syntax error in a show or config file
	ErrCodeSchema       = "E007" // Show file does not match the schema
	ErrCodeUnsupported  = "E008" // Unknown file extension
	ErrCodeInvalidShow  = "E101" // Timeline or mappings failed validation
	ErrCodeInvalidConf  = "E102" // Config failed validation
	ErrCodeJournal      = "E201" // Journal could not be opened or read
	ErrCodeTestFailed   = "E301" // One or more scenarios failed
	ErrCodeResolveError = "E401" // Resolution failed
)

// Show is the content of a show file.
type Show struct {
	Mappings timeline.Mappings `json:"mappings" yaml:"mappings"`
	Timeline []timeline.Object `json:"timeline" yaml:"timeline"`
}

// LoadError is a show or config loading failure. Pos is "file:line:col"
// when known.
type LoadError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Pos     string `json:"pos,omitempty"`
}

func (e *LoadError) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadErrors is every problem found in one file.
type LoadErrors []*LoadError

func (errs LoadErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ShowExtensions are the supported show file extensions.
var ShowExtensions = []string{".cue", ".yaml", ".yml", ".json"}

// LoadShow reads a show file, choosing the decoder by extension, and
// validates the timeline and mappings. The returned error is a LoadErrors.
func LoadShow(path string) (*Show, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(ShowExtensions, ext) {
		return nil, LoadErrors{{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported show file extension %q (want one of %v)", ext, ShowExtensions)}}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, LoadErrors{{Code: ErrCodeNotFound, Message: fmt.Sprintf("show file not found: %s", path)}}
		}
		return nil, LoadErrors{{Code: ErrCodeGeneric, Message: err.Error()}}
	}

	var show *Show
	switch ext {
	case ".cue":
		show, err = decodeCUEShow(path, data)
	case ".json":
		show, err = decodeJSONShow(data)
	default:
		show, err = decodeYAMLShow(data)
	}
	if err != nil {
		return nil, err
	}

	if errs := validateShow(show); len(errs) > 0 {
		return nil, errs
	}
	return show, nil
}

// decodeCUEShow unifies the file with the embedded #Show schema and
// decodes the concrete result through JSON.
func decodeCUEShow(path string, data []byte) (*Show, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(showSchema, cue.Filename("show_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, LoadErrors{{Code: ErrCodeGeneric, Message: fmt.Sprintf("show schema: %v", err)}}
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, cueLoadErrors(ErrCodeParseFailed, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Show")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadErrors(ErrCodeSchema, err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, cueLoadErrors(ErrCodeSchema, err)
	}
	return decodeJSONShow(raw)
}

func cueLoadErrors(code string, err error) LoadErrors {
	var out LoadErrors
	for _, e := range cueerrors.Errors(err) {
		le := &LoadError{Code: code, Message: strings.TrimSpace(cueerrors.Details(e, nil))}
		if pos := e.Position(); pos.IsValid() {
			le.Pos = fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line(), pos.Column())
			le.Message = e.Error()
		}
		out = append(out, le)
	}
	if len(out) == 0 {
		out = LoadErrors{{Code: code, Message: err.Error()}}
	}
	return out
}

func decodeJSONShow(data []byte) (*Show, error) {
	var show Show
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&show); err != nil {
		return nil, LoadErrors{{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parse JSON: %v", err)}}
	}
	return &show, nil
}

func decodeYAMLShow(data []byte) (*Show, error) {
	var show Show
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&show); err != nil {
		return nil, LoadErrors{{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parse YAML: %v", err)}}
	}
	return &show, nil
}

func validateShow(show *Show) LoadErrors {
	var out LoadErrors
	add := func(err error) {
		var verrs timeline.ValidationErrors
		if errors.As(err, &verrs) {
			for _, ve := range verrs {
				out = append(out, &LoadError{Code: ErrCodeInvalidShow, Message: ve.Error()})
			}
			return
		}
		out = append(out, &LoadError{Code: ErrCodeInvalidShow, Message: err.Error()})
	}
	if err := timeline.Validate(show.Timeline); err != nil {
		add(err)
	}
	if err := timeline.ValidateMappings(show.Mappings); err != nil {
		add(err)
	}
	return out
}

// Config is the daemon configuration file.
type Config struct {
	Conductor conductor.Config         `toml:"conductor"`
	Journal   JournalConfig            `toml:"journal"`
	Metrics   MetricsConfig            `toml:"metrics"`
	Devices   []conductor.DeviceConfig `toml:"devices"`
}

// JournalConfig enables the SQLite journal when Path is set.
type JournalConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LoadConfig reads a TOML config. Unknown keys are rejected. A relative
// journal path is resolved against the config file's directory.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("load config: %v", err)}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &LoadError{Code: ErrCodeInvalidConf, Message: fmt.Sprintf("unknown config keys: %s", strings.Join(keys, ", "))}
	}

	seen := map[string]bool{}
	for i, d := range cfg.Devices {
		if err := d.Validate(); err != nil {
			return nil, &LoadError{Code: ErrCodeInvalidConf, Message: fmt.Sprintf("devices[%d]: %v", i, err)}
		}
		if seen[d.ID] {
			return nil, &LoadError{Code: ErrCodeInvalidConf, Message: fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID)}
		}
		seen[d.ID] = true
	}

	if p := cfg.Journal.Path; p != "" && p != ":memory:" && !filepath.IsAbs(p) {
		cfg.Journal.Path = filepath.Join(filepath.Dir(path), p)
	}
	return &cfg, nil
}
