package yaml

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Parser interface {
	Parse(yamlFile []byte) error
	GetConfig() interface{}
}

type ParserYamlV1 struct {
	config JobYamlV1
}

func (p *ParserYamlV1) Parse(yamlFile []byte) error {
	var manifest JobYamlV1
	if err := yaml.UnmarshalStrict(yamlFile, &manifest); err != nil {
		return err
	}
	p.config = manifest
	return nil
}

func (p *ParserYamlV1) GetConfig() interface{} {
	return p.config
}

type Version struct {
	Version string `yaml:"version"`
}

func getYAMLFileVersion(yamlFile []byte) (string, error) {
	var version Version
	err := yaml.Unmarshal(yamlFile, &version)
	if err != nil {
		return "", err
	}
	return version.Version, nil
}

// HandlerYaml reads a job manifest file.
func HandlerYaml(yamlFilePath string) (*JobManifest, error) {
	yamlFile, err := os.ReadFile(yamlFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed unable to read file, %w", err)
	}
	return ParseJob(yamlFile)
}

func ParseJob(yamlFile []byte) (*JobManifest, error) {
	version, err := getYAMLFileVersion(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("failed unable to parse YAML file, %w", err)
	}
	switch version {
	case "1.0":
		parser := &ParserYamlV1{}
		if err = parser.Parse(yamlFile); err != nil {
			return nil, fmt.Errorf("failed unable to parse YAML file, %w", err)
		}
		manifest, err := parser.config.ToManifest()
		if err != nil {
			return nil, fmt.Errorf("failed invalid job manifest, %w", err)
		}
		return manifest, nil
	default:
		return nil, fmt.Errorf("not support yaml version: %q", version)
	}
}
