package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "DEPLOYER"

	defaultConfigName = "config"
	defaultConfigType = "yaml"
	exampleFileName   = "config.example.yaml"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// DefaultDir is where the config file and the generated example live
// unless --config points elsewhere.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".deployer"), nil
}

// Configure points v at configFile (or the default location), enables
// DEPLOYER_-prefixed environment overrides for envKeys and reads the file.
func Configure(v *viper.Viper, configFile string, envKeys ...string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		dir, err := DefaultDir()
		if err != nil {
			return err
		}
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		v.SetConfigType(defaultConfigType)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows, so secrets that are
	// left out of the file must be bound explicitly.
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return eris.Wrapf(err, "failed to bind env for %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return eris.Wrap(err, "failed to read config")
	}
	return nil
}

// Unmarshal decodes the settings held by v into out and validates it.
func Unmarshal(v *viper.Viper, out any) error {
	if err := v.Unmarshal(out); err != nil {
		return eris.Wrap(err, "failed to decode config")
	}
	return ValidateStruct(out)
}

func ValidateStruct(s any) error {
	return validate.Struct(s)
}

// CreateExample writes example as YAML to outputDir/config.example.yaml and
// returns the file name.
func CreateExample(outputDir string, example any) (string, error) {
	err := os.MkdirAll(outputDir, os.ModePerm)
	if err != nil {
		return "", err
	}
	filename := filepath.Join(outputDir, exampleFileName)
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	yamlData, err := yaml.Marshal(example)
	if err != nil {
		return "", err
	}
	_, err = f.Write(yamlData)
	if err != nil {
		return "", err
	}
	fmt.Printf("Created %s\n", filename)
	return filename, nil
}
