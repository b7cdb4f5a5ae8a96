// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads YAML configuration files and serves values by
// dotted key, e.g. "lab.hostname". Optional keys are looked up with a
// default; required keys with Require.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a tree of configuration values. A nil *Config behaves like an
// empty one.
type Config struct {
	root map[string]interface{}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &Config{root: root}, nil
}

// New builds a Config from an already assembled value tree. Mostly useful
// for tests and for callers that compose configuration in code.
func New(values map[string]interface{}) *Config {
	return &Config{root: values}
}

func (c *Config) lookup(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	var cur interface{} = c.root
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether key is present.
func (c *Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// Set stores a value under a dotted key, creating intermediate maps as
// needed.
func (c *Config) Set(key string, value interface{}) {
	if c.root == nil {
		c.root = map[string]interface{}{}
	}
	parts := strings.Split(key, ".")
	m := c.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// String returns the value at key rendered as a string, or def if the key
// is absent. Scalars of other types (YAML likes to parse ports as ints)
// are formatted.
func (c *Config) String(key, def string) string {
	v, ok := c.lookup(key)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the integer at key, or def if the key is absent or not an
// integer.
func (c *Config) Int(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean at key, or def if the key is absent or not a
// boolean.
func (c *Config) Bool(key string, def bool) bool {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Require returns the string at key or an error if it is missing.
func (c *Config) Require(key string) (string, error) {
	if !c.Has(key) {
		return "", fmt.Errorf("missing required config key %q", key)
	}
	return c.String(key, ""), nil
}
