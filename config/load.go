package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfigFromFile decodes the TOML file at configPath into cfg. Keys not
// present in the file keep the values already in cfg, so callers normally
// start from NewDefaultConfig. Unknown keys and duplicate keys produce
// warnings instead of failing.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}

		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")

		metadata, err = toml.Decode(removeDuplicateKeysFromTOML(string(content)), cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// removeDuplicateKeysFromTOML comments out every repeated key within a
// table, keeping the first occurrence.
func removeDuplicateKeysFromTOML(content string) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]int)
	result := make([]string, 0, len(lines))
	section := ""

	for lineNum, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.Trim(trimmed, "[] ")
		case strings.Contains(trimmed, "="):
			key := strings.TrimSpace(strings.SplitN(trimmed, "=", 2)[0])
			if section != "" {
				key = section + "." + key
			}
			if first, dup := seen[key]; dup {
				log.Printf("WARNING: Duplicate key '%s' found at line %d (first occurrence at line %d). Ignoring duplicate.",
					key, lineNum+1, first+1)
				result = append(result, "# DUPLICATE IGNORED: "+line)
				continue
			}
			seen[key] = lineNum
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// enhanceConfigError adds a hint to common TOML mistakes.
func enhanceConfigError(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, `expected value but found "f"`), strings.Contains(msg, `expected value but found "t"`):
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value. In TOML, booleans must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	case strings.Contains(msg, "incompatible types"):
		return fmt.Errorf("%w\n\nHINT: A value has the wrong type. Sizes and durations are strings (max_size = \"2mb\", timeout = \"10s\")", err)
	case strings.Contains(msg, "expected") || strings.Contains(msg, "invalid"):
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check that strings are quoted, brackets are balanced and section headers use [section] format", err)
	}
	return err
}

// trimStringFields recursively trims whitespace from all string fields.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanSet() {
				trimStringFields(field)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
