package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// ErrTemplateNotFound reports a template name with no backing file.
var ErrTemplateNotFound = errors.New("template not found")

// Template declares a reusable brainstorm: a request plus the branches that
// explore it. Templates live as YAML files in the configured templates
// directory, one file per template, named <name>.yaml.
type Template struct {
	Name        string           `yaml:"name,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Request     string           `yaml:"request"`
	Branches    []TemplateBranch `yaml:"branches"`
}

// TemplateBranch declares one exploration branch of a template.
type TemplateBranch struct {
	ID       string           `yaml:"id"`
	Scope    string           `yaml:"scope"`
	Question TemplateQuestion `yaml:"question"`
}

// TemplateQuestion is the branch's seed question.
type TemplateQuestion struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// Validate checks the template for the fields a brainstorm needs.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Request) == "" {
		return fmt.Errorf("template requires a request")
	}
	if len(t.Branches) == 0 {
		return fmt.Errorf("template requires at least one branch")
	}
	seen := make(map[string]bool, len(t.Branches))
	for i, b := range t.Branches {
		if b.ID == "" || b.Scope == "" {
			return fmt.Errorf("branch %d requires id and scope", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
		if !apiv1.ValidQuestionType(b.Question.Type) {
			return fmt.Errorf("branch %q has unknown question type %q", b.ID, b.Question.Type)
		}
	}
	return nil
}

// ToRequest converts the template into a brainstorm request.
func (t *Template) ToRequest() apiv1.CreateBrainstormRequest {
	req := apiv1.CreateBrainstormRequest{
		Request:  t.Request,
		Branches: make([]apiv1.BranchSpec, 0, len(t.Branches)),
	}
	for _, b := range t.Branches {
		config := b.Question.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		req.Branches = append(req.Branches, apiv1.BranchSpec{
			ID:    b.ID,
			Scope: b.Scope,
			InitialQuestion: apiv1.SeedQuestion{
				Type:   apiv1.QuestionType(b.Question.Type),
				Config: config,
			},
		})
	}
	return req
}

// LoadTemplate reads and validates the named template from dir.
func LoadTemplate(dir, name string) (*Template, error) {
	if err := validateTemplateName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data, err = os.ReadFile(filepath.Join(dir, name+".yml"))
	}
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if tpl.Name == "" {
		tpl.Name = name
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return &tpl, nil
}

// ListTemplates returns the template names available in dir, sorted. A
// missing directory lists as empty.
func ListTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// CreateFromTemplate starts a brainstorm from a named template. A non-empty
// requestOverride replaces the template's request text.
func (s *Service) CreateFromTemplate(ctx context.Context, name, requestOverride string) (string, error) {
	tpl, err := LoadTemplate(s.templatesDir, name)
	if err != nil {
		return "", err
	}
	req := tpl.ToRequest()
	if strings.TrimSpace(requestOverride) != "" {
		req.Request = requestOverride
	}
	return s.CreateBrainstorm(ctx, req)
}

// Templates lists the template names this service can start brainstorms from.
func (s *Service) Templates() ([]string, error) {
	return ListTemplates(s.templatesDir)
}

// Template names map to file names; reject anything that could escape the
// templates directory.
func validateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("template name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid template name %q", name)
	}
	return nil
}
