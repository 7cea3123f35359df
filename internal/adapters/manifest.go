package adapters

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Input modes for delivering the prompt to the child process.
const (
	InputModeArg   = "arg"   // prompt appended as the final argv element
	InputModeJSONL = "jsonl" // prompt written to stdin as a JSON line
)

// ResumeSpec describes how a prior session is resumed on the command line.
type ResumeSpec struct {
	Flag       string `yaml:"flag"`
	SessionArg bool   `yaml:"sessionArg"` // session ID as a separate argv element after the flag
}

// ModelSpec describes the model selection flag and its default.
type ModelSpec struct {
	Flag    string `yaml:"flag"`
	Default string `yaml:"default"`
}

// Manifest is the static per-CLI descriptor. Immutable after load.
type Manifest struct {
	Name           string      `yaml:"name"`
	Command        string      `yaml:"command"`
	Args           []string    `yaml:"args"`
	InputMode      string      `yaml:"inputMode"`
	Resume         *ResumeSpec `yaml:"resume,omitempty"`
	Model          *ModelSpec  `yaml:"model,omitempty"`
	WorkingDirFlag string      `yaml:"workingDirFlag,omitempty"`
	KeepStdinOpen  bool        `yaml:"keepStdinOpen,omitempty"`
}

// BuildArgv composes the child argv for one turn. The prompt is included only
// for arg-mode adapters; jsonl-mode adapters receive it over stdin.
func (m *Manifest) BuildArgv(prompt, resumeSession, model, workdir string) []string {
	args := make([]string, 0, len(m.Args)+8)
	args = append(args, m.Args...)

	if m.Model != nil {
		selected := model
		if selected == "" {
			selected = m.Model.Default
		}
		if selected != "" {
			args = append(args, m.Model.Flag, ResolveModelAlias(selected))
		}
	}
	if resumeSession != "" && m.Resume != nil {
		if m.Resume.SessionArg {
			args = append(args, m.Resume.Flag, resumeSession)
		} else {
			args = append(args, m.Resume.Flag+"="+resumeSession)
		}
	}
	if m.WorkingDirFlag != "" && workdir != "" {
		args = append(args, m.WorkingDirFlag, workdir)
	}
	if m.InputMode == InputModeArg && prompt != "" {
		args = append(args, prompt)
	}
	return args
}

// builtinManifests are the compiled-in defaults; file manifests override by name.
func builtinManifests() map[string]*Manifest {
	return map[string]*Manifest{
		"claude": {
			Name:      "claude",
			Command:   "claude",
			Args:      []string{"-p", "--output-format", "stream-json", "--verbose"},
			InputMode: InputModeArg,
			Resume:    &ResumeSpec{Flag: "--resume", SessionArg: true},
			Model:     &ModelSpec{Flag: "--model"},
		},
		"codex": {
			Name:      "codex",
			Command:   "codex",
			Args:      []string{"exec", "--json"},
			InputMode: InputModeArg,
			Resume:    &ResumeSpec{Flag: "resume", SessionArg: true},
			Model:     &ModelSpec{Flag: "-m"},
		},
		"droid": {
			Name:      "droid",
			Command:   "droid",
			Args:      []string{"exec", "--output-format", "stream-json"},
			InputMode: InputModeArg,
			Resume:    &ResumeSpec{Flag: "--session-id", SessionArg: true},
			Model:     &ModelSpec{Flag: "--model"},
		},
		"pi": {
			Name:          "pi",
			Command:       "pi",
			Args:          []string{"--mode", "json"},
			InputMode:     InputModeJSONL,
			Resume:        &ResumeSpec{Flag: "--session", SessionArg: true},
			Model:         &ModelSpec{Flag: "--model"},
			KeepStdinOpen: true,
		},
	}
}

// Registry holds the loaded manifests. Read-only after Load.
type Registry struct {
	manifests map[string]*Manifest
}

// LoadRegistry returns the builtin manifests overlaid with any *.yaml files
// found in dir. A missing directory is not an error.
func LoadRegistry(dir string) (*Registry, error) {
	reg := &Registry{manifests: builtinManifests()}
	if dir == "" {
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("read adapter dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("adapter manifest unreadable, skipping", "path", path, "error", err)
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse adapter manifest %s: %w", e.Name(), err)
		}
		if m.Name == "" || m.Command == "" {
			return nil, fmt.Errorf("adapter manifest %s: name and command are required", e.Name())
		}
		if m.InputMode == "" {
			m.InputMode = InputModeArg
		}
		reg.manifests[m.Name] = &m
		slog.Info("adapter manifest loaded", "name", m.Name, "command", m.Command)
	}
	return reg, nil
}

// Get returns the manifest for a CLI name, or nil when unknown.
func (r *Registry) Get(name string) *Manifest {
	return r.manifests[name]
}

// Names returns the known adapter names, sorted lexically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.manifests))
	for n := range r.manifests {
		names = append(names, n)
	}
	// insertion-order independence for /status output
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// NewTranslator creates a fresh translator for one process run of the named
// adapter. Unknown names get the pass-through claude translator shape — the
// caller should have validated the name against the registry already.
func NewTranslator(name string) Translator {
	switch name {
	case "droid":
		return &droidTranslator{}
	case "codex":
		return &codexTranslator{}
	case "pi":
		return &piTranslator{}
	default:
		return &claudeTranslator{}
	}
}
