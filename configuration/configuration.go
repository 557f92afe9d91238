package configuration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/countersign/countersign/client"
	"github.com/countersign/countersign/esignature"
	"github.com/countersign/countersign/lifecycle"
	"github.com/countersign/countersign/natsclient"
	"github.com/countersign/countersign/repository"
	"github.com/countersign/countersign/server"
	"github.com/countersign/countersign/zincadapter"
)

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Server     server.Config       `yaml:"server"`
	Database   repository.DBConfig `yaml:"database"`
	Lifecycle  lifecycle.Config    `yaml:"lifecycle"`
	Provider   esignature.Config   `yaml:"provider"`
	Nats       natsclient.Config   `yaml:"nats"`
	ZincLogger zincadapter.Config  `yaml:"zinc_logger"`
	Client     client.Config       `yaml:"client"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	return main, err
}
