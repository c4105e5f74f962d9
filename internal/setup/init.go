// Package setup handles lampdesk project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/magiclamp/lampdesk/internal/model"
	atomicyaml "github.com/magiclamp/lampdesk/internal/yaml"
	"github.com/magiclamp/lampdesk/templates"
)

// DirName is the per-project state directory.
const DirName = ".lampdesk"

type Options struct {
	// Name overrides the project name (defaults to the directory basename).
	Name string
	// BaseURL overrides api.base_url from the template.
	BaseURL string
}

// Run initializes the .lampdesk/ directory structure in projectDir.
func Run(projectDir string, opts Options) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	cfg, err := generateConfig(absDir, opts)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("generated config: %w", err)
	}

	for _, d := range []string{"locks", "logs"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Keep tokens and logs out of version control.
	gitignore := []byte("token\nlogs/\nlocks/\n*.sock\n*.bak\n")
	if err := os.WriteFile(filepath.Join(base, ".gitignore"), gitignore, 0644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	return nil
}

// DefaultConfig parses the embedded config template.
func DefaultConfig() (model.Config, error) {
	var cfg model.Config
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return cfg, fmt.Errorf("read config template: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config template: %w", err)
	}
	return cfg, nil
}

func generateConfig(projectDir string, opts Options) (*model.Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	if opts.Name != "" {
		cfg.Project.Name = opts.Name
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	if opts.BaseURL != "" {
		cfg.API.BaseURL = opts.BaseURL
	}
	cfg.Project.Created = time.Now().Format(time.RFC3339)
	cfg.ApplyDefaults()
	return &cfg, nil
}
