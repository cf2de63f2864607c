package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sreops-dev/incidentpilot/domain/entity"
	"gopkg.in/yaml.v3"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// FileWorkflowRepository loads workflow definitions from a directory of
// YAML files, one workflow per file, keyed by the name field.
type FileWorkflowRepository struct {
	dir      string
	validate *validator.Validate
}

func NewFileWorkflowRepository(dir string) *FileWorkflowRepository {
	return &FileWorkflowRepository{
		dir:      dir,
		validate: validator.New(),
	}
}

func (r *FileWorkflowRepository) LoadWorkflow(name string) (*entity.Workflow, error) {
	workflows, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if workflows[i].Name == name {
			return &workflows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
}

func (r *FileWorkflowRepository) ListWorkflows() ([]entity.Workflow, error) {
	return r.loadAll()
}

func (r *FileWorkflowRepository) loadAll() ([]entity.Workflow, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory %s: %w", r.dir, err)
	}

	var workflows []entity.Workflow
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		wf, err := r.loadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].Name < workflows[j].Name
	})
	return workflows, nil
}

func (r *FileWorkflowRepository) loadFile(path string) (*entity.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	var wf entity.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}
	if err := r.validate.Struct(wf); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	for _, step := range wf.AllSteps() {
		if !step.Type.Valid() {
			return nil, fmt.Errorf("invalid workflow %s: step %s has unknown type %q", path, step.Name, step.Type)
		}
	}
	return &wf, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
