package script

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_suite.yaml
var defaultSuiteYAML []byte

// suiteFile is the on-disk layout of a suite.
type suiteFile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Cases       []caseFile `yaml:"cases"`
}

type caseFile struct {
	Name     string        `yaml:"name"`
	Commands []commandFile `yaml:"commands"`
}

type commandFile struct {
	Send        string  `yaml:"send"`
	ThresholdMs float64 `yaml:"threshold_ms"`
	Expect      string  `yaml:"expect"`
}

// LoadError describes a suite that could not be read or validated.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ParseSuite parses a suite from YAML bytes.
func ParseSuite(data []byte) (Suite, error) {
	var sf suiteFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return Suite{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if len(sf.Cases) == 0 {
		return Suite{}, &LoadError{Message: "suite has no test cases"}
	}

	suite := Suite{Name: sf.Name, Cases: make([]TestCase, 0, len(sf.Cases))}
	for i, cf := range sf.Cases {
		name := cf.Name
		if name == "" {
			name = fmt.Sprintf("case-%d", i+1)
		}
		if len(cf.Commands) == 0 {
			return Suite{}, &LoadError{Message: fmt.Sprintf("test case %q has no commands", name)}
		}
		tc := TestCase{Name: name, Commands: make([]Command, 0, len(cf.Commands))}
		for j, c := range cf.Commands {
			cmd, err := NewCommand(c.Send, Millis(c.ThresholdMs), c.Expect)
			if err != nil {
				return Suite{}, &LoadError{
					Message: fmt.Sprintf("test case %q command %d", name, j+1),
					Cause:   err,
				}
			}
			tc.Commands = append(tc.Commands, cmd)
		}
		suite.Cases = append(suite.Cases, tc)
	}
	return suite, nil
}

// LoadSuite reads a suite file.
func LoadSuite(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	suite, err := ParseSuite(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return Suite{}, err
	}
	return suite, nil
}

// DefaultSuite returns the built-in StimProc suite.
func DefaultSuite() Suite {
	suite, err := ParseSuite(defaultSuiteYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default suite: %v", err))
	}
	return suite
}
