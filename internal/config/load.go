package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// lookupEnv is a seam for tests.
var lookupEnv = os.LookupEnv

// Load reads the configuration at path, fills defaults, applies environment
// overrides and validates the result. An empty path loads Default().
//
// Errors are *model.CLIError with ExitConfigError.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to read config %s", path), err)
		}
		cfg, err = Parse(data, filepath.Ext(path))
		if err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to parse config %s", path), err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. ext selects the format:
// ".yaml"/".yml", ".json"/".jsonc" or ".toml". Unknown keys are rejected in
// every format so typos do not silently fall back to defaults.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

	case ".json", ".jsonc":
		// Strip comments and trailing commas first, the same way
		// devcontainer-style JSONC files are handled.
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}

	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .json, .jsonc or .toml)", ext)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyEnv applies the environment overrides. Empty variables count as
// unset.
func applyEnv(cfg *Config) {
	get := func(key string) (string, bool) {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	images := map[model.ImageKind]string{
		model.ImageWorkshop: "USER_IMAGE",
		model.ImageOpenClaw: "OPENCLAW_IMAGE",
		model.ImageHCIE:     "HCIE_IMAGE",
	}
	for i := range cfg.Images {
		p := &cfg.Images[i]
		if v, ok := get(images[p.Kind]); ok {
			p.Image = v
		}
		// The advertised host follows the registry the profile uses.
		switch p.Registry {
		case "ssh":
			if v, ok := get("VSCODE_SSH_HOST"); ok {
				p.AdvertiseHost = v
			}
		case "openclaw":
			if v, ok := get("OPENCLAW_GATEWAY_HOST"); ok {
				p.AdvertiseHost = v
			}
		}
	}

	if v, ok := get("WORKSHOP_CONTENT"); ok {
		cfg.Workshop.HostPath = v
	}
	if v, ok := get("STUDENT_WORK"); ok {
		cfg.StudentWork.LocalPath = v
	}
	if v, ok := get("STUDENT_WORK_HOST"); ok {
		cfg.StudentWork.HostPath = v
	}
	if dir, ok := get("HUB_STATE_DIR"); ok {
		for i := range cfg.Registries {
			r := &cfg.Registries[i]
			r.Path = filepath.Join(dir, filepath.Base(r.Path))
		}
	}
}
