package spawn

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a pipeline described in a file (e.g. YAML).
type Definition struct {
	Name   string     `yaml:"name"`
	Stages []StageDef `yaml:"stages"`
}

// StageDef is a single stage entry. In YAML a stage can be written as:
//   - sort -r
//   - args: [grep, "two words"]
//     ignore_error: true
type StageDef struct {
	Args        []string `yaml:"args"`
	IgnoreError bool     `yaml:"ignore_error"`
	Dir         string   `yaml:"dir"`
	Env         []string `yaml:"env"`
}

// UnmarshalYAML allows a stage to be a plain string, split on whitespace.
func (s *StageDef) UnmarshalYAML(value *yaml.Node) error {
	var line string
	if err := value.Decode(&line); err == nil {
		s.Args = strings.Fields(line)
		return nil
	}
	type raw StageDef
	return value.Decode((*raw)(s))
}

// ParseDefinition parses YAML bytes into a Definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline definition: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data)
}

// Commands converts the definition into spawnable commands.
func (d *Definition) Commands() ([]Command, error) {
	if len(d.Stages) == 0 {
		return nil, fmt.Errorf("pipeline %q has no stages", d.Name)
	}
	cmds := make([]Command, 0, len(d.Stages))
	for i, st := range d.Stages {
		if len(st.Args) == 0 {
			return nil, fmt.Errorf("stage %d: args required", i)
		}
		cmds = append(cmds, Command{
			Args:        st.Args,
			IgnoreError: st.IgnoreError,
			Dir:         st.Dir,
			Env:         st.Env,
		})
	}
	return cmds, nil
}
