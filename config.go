package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/dragonfly-science/github-mirroring/repository"
	"github.com/dragonfly-science/github-mirroring/syncer"
	"gopkg.in/yaml.v3"
)

func parseConfigFile(path string) (*syncer.Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfigYAML(yamlFile); err != nil {
		return nil, err
	}

	conf := &syncer.Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	return conf, nil
}

// validateConfigYAML checks the raw document for unexpected keys. A typo in a
// key would otherwise silently fall back to the default value.
func validateConfigYAML(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	allowedKeys := getAllowedKeys(syncer.Config{})
	if key := findUnexpectedKey(raw, allowedKeys); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	if authMap, ok := raw["auth"].(map[string]interface{}); ok {
		allowedAuthKeys := getAllowedKeys(repository.Auth{})
		if key := findUnexpectedKey(authMap, allowedAuthKeys); key != "" {
			return fmt.Errorf("unexpected key: .auth.%v", key)
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct.
// Inlined structs contribute their own keys to the parent section.
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		yamlTag, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if opts == "inline" {
			allowedKeys = append(allowedKeys, getAllowedKeys(val.Field(i).Interface())...)
			continue
		}
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
