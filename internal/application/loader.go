package application

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// Experiment directory file names.
const (
	ExperimentFileName = "experiment.md"
	PromptFileName     = "prompt.md"
	JudgeFileName      = "judge.md"
	InputsFileName     = "inputs.yaml"
	ToolsFileName      = "tools.yaml"
)

// ErrNoVariants is returned when an experiment directory has no variant
// sub-directories.
var ErrNoVariants = errors.New("no variants found")

// VariantLoader turns experiment directories into validated variants.
//
// A variant is a directory holding prompt.md whose parent holds
// experiment.md. judge.md and inputs.yaml are looked up in the variant
// first and then in the experiment; tools.yaml is per variant.
type VariantLoader struct {
	tools ports.ToolValidator
}

// NewVariantLoader creates a loader. tools checks tool definitions and may
// be nil to skip schema checks.
func NewVariantLoader(tools ports.ToolValidator) *VariantLoader {
	return &VariantLoader{tools: tools}
}

// DiscoverVariants returns the variant directories of an experiment,
// sorted by name.
func (l *VariantLoader) DiscoverVariants(experimentDir string) ([]string, error) {
	entries, err := os.ReadDir(experimentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment directory %s: %w", experimentDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(experimentDir, e.Name())
		if fileExists(filepath.Join(dir, PromptFileName)) {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoVariants, experimentDir)
	}
	slices.Sort(dirs)
	return dirs, nil
}

// LoadExperiment loads every variant of an experiment.
func (l *VariantLoader) LoadExperiment(experimentDir string) ([]*domain.Variant, error) {
	dirs, err := l.DiscoverVariants(experimentDir)
	if err != nil {
		return nil, err
	}
	variants := make([]*domain.Variant, 0, len(dirs))
	for _, dir := range dirs {
		v, err := l.LoadVariant(dir)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// LoadVariant loads and validates one variant directory.
func (l *VariantLoader) LoadVariant(variantDir string) (*domain.Variant, error) {
	dir, err := filepath.Abs(variantDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", variantDir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read variant %s: %w", variantDir, err)
	}
	if !info.IsDir() {
		return nil, invalid(variantDir, "variant path must be a directory")
	}
	expDir := filepath.Dir(dir)

	exp, err := loadExperimentFile(expDir)
	if err != nil {
		return nil, err
	}

	v := &domain.Variant{
		Name:        filepath.Base(dir),
		Dir:         dir,
		Experiment:  exp,
		Models:      exp.Models,
		Temperature: domain.DefaultTemperature,
	}
	if err := loadPromptFile(dir, v); err != nil {
		return nil, err
	}
	if v.Judge, err = loadJudgeFile(dir, expDir); err != nil {
		return nil, err
	}
	if v.Inputs, err = loadInputs(dir, expDir); err != nil {
		return nil, err
	}
	if v.Tools, err = loadTools(dir); err != nil {
		return nil, err
	}
	if l.tools != nil {
		if err := l.tools.ValidateDefinitions(v.Tools); err != nil {
			return nil, invalid(filepath.Join(dir, ToolsFileName), err.Error())
		}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func loadExperimentFile(expDir string) (domain.ExperimentConfig, error) {
	path := filepath.Join(expDir, ExperimentFileName)
	var f ExperimentFile
	if _, err := readFrontMatterFile(path, &f, false); err != nil {
		return domain.ExperimentConfig{}, err
	}
	if err := checkStruct(path, f); err != nil {
		return domain.ExperimentConfig{}, err
	}

	cfg := domain.ExperimentConfig{
		Name:        f.Name,
		Description: f.Description,
		Hypothesis:  f.Hypothesis,
		Models:      f.Models,
		Runs:        domain.DefaultRuns,
		KeyRefs:     f.KeyRefs,
		Metadata:    f.Extra,
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(expDir)
	}
	if f.Runs != nil {
		cfg.Runs = *f.Runs
	}
	return cfg, nil
}

func loadPromptFile(dir string, v *domain.Variant) error {
	path := filepath.Join(dir, PromptFileName)
	var f PromptFile
	body, err := readFrontMatterFile(path, &f, true)
	if err != nil {
		return err
	}
	if err := checkStruct(path, f); err != nil {
		return err
	}
	v.Prompt = body
	v.System = strings.TrimSpace(f.System)
	if len(f.Models) > 0 {
		v.Models = f.Models
	}
	if f.Temperature != nil {
		v.Temperature = *f.Temperature
	}
	v.MaxTokens = f.MaxTokens
	return nil
}

func loadJudgeFile(dir, expDir string) (domain.JudgeConfig, error) {
	path, ok := firstExisting(JudgeFileName, dir, expDir)
	if !ok {
		return domain.JudgeConfig{}, fmt.Errorf("%w: no %s found in %s or %s",
			ports.ErrConfigNotFound, JudgeFileName, dir, expDir)
	}
	var f JudgeFile
	body, err := readFrontMatterFile(path, &f, true)
	if err != nil {
		return domain.JudgeConfig{}, err
	}
	if err := checkStruct(path, f); err != nil {
		return domain.JudgeConfig{}, err
	}
	cfg, err := f.JudgeConfig(body)
	if err != nil {
		return domain.JudgeConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadInputs(dir, expDir string) ([]domain.InputCase, error) {
	path, ok := firstExisting(InputsFileName, dir, expDir)
	if !ok {
		return defaultInputs(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseInputs(path, data)
}

// ParseInputs decodes an inputs file: a list of mappings whose id and runs
// keys are reserved and whose other keys become template bindings. An
// empty document yields the single default input.
func ParseInputs(source string, data []byte) ([]domain.InputCase, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if raw == nil {
		return defaultInputs(), nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid(source, "inputs must be a list of test cases")
	}

	verr := domain.NewValidationError(source)
	cases := make([]domain.InputCase, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			verr.AddErrorf("input case %d must be a mapping", i)
			continue
		}
		in := domain.InputCase{ID: "input-" + strconv.Itoa(i), Bindings: make(map[string]any, len(m))}
		for k, val := range m {
			switch k {
			case "id":
				in.ID = fmt.Sprint(val)
			case "runs":
				n, ok := val.(int)
				if !ok {
					verr.AddErrorf("input case %d: runs must be an integer, got %v", i, val)
					continue
				}
				in.Runs = &n
			default:
				in.Bindings[k] = val
			}
		}
		cases = append(cases, in)
	}
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	return cases, nil
}

func defaultInputs() []domain.InputCase {
	return []domain.InputCase{{ID: domain.DefaultInputID, Bindings: map[string]any{}}}
}

func loadTools(dir string) ([]domain.ToolDefinition, error) {
	path := filepath.Join(dir, ToolsFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var tools []domain.ToolDefinition
	if err := yaml.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("failed to parse %s: tools must be a list of definitions: %w", path, err)
	}
	return tools, nil
}

// readFrontMatterFile decodes the YAML front matter of a markdown file into
// out and returns the body. strict rejects unknown front-matter keys.
func readFrontMatterFile(path string, out any, strict bool) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s not found", ports.ErrConfigNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	body, err := ParseFrontMatter(data, out, strict)
	if err != nil {
		return "", fmt.Errorf("failed to parse front matter of %s: %w", path, err)
	}
	return body, nil
}

// ParseFrontMatter decodes a leading "---" delimited YAML block into out and
// returns the trimmed markdown body. Content without front matter is
// returned whole and out is left untouched.
func ParseFrontMatter(data []byte, out any, strict bool) (string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	body, err := frontmatter.Parse(strings.NewReader(text), out, yamlFrontMatter(strict))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func yamlFrontMatter(strict bool) *frontmatter.Format {
	return frontmatter.NewFormat("---", "---", func(meta []byte, v any) error {
		if len(bytes.TrimSpace(meta)) == 0 {
			return nil
		}
		dec := yaml.NewDecoder(bytes.NewReader(meta))
		dec.KnownFields(strict)
		return dec.Decode(v)
	})
}

func checkStruct(path string, s any) error {
	if err := validate.Struct(s); err != nil {
		verr := domain.NewValidationError(path)
		appendFieldErrors(verr, err)
		return verr
	}
	return nil
}

func invalid(entity, msg string) error {
	verr := domain.NewValidationError(entity)
	verr.AddError(msg)
	return verr
}

func firstExisting(name string, dirs ...string) (string, bool) {
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
