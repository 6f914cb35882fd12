/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package experiment

import (
	"fmt"
	"os"
	"time"

	"github.com/facebook/dilation/tracer"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// TracerConfig describes one dilation group
type TracerConfig struct {
	ID            int           `yaml:"id"`
	PID           int           `yaml:"pid"`
	Lane          int           `yaml:"lane"` // negative, or omitted in yaml, picks a lane by hashing the id
	Quantum       time.Duration `yaml:"quantum"`
	FreezeQuantum time.Duration `yaml:"freeze_quantum"`
}

// UnmarshalYAML leaves the lane to hashing unless the file sets one
func (c *TracerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain TracerConfig
	p := plain{Lane: -1}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = TracerConfig(p)
	return nil
}

// Validate TracerConfig is sane
func (c *TracerConfig) Validate(lanes int) error {
	if c.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if c.PID < 0 {
		return fmt.Errorf("pid must be 0 or positive")
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("quantum must be greater than zero")
	}
	if c.FreezeQuantum < 0 {
		return fmt.Errorf("freeze_quantum must be 0 or positive")
	}
	if c.Lane >= lanes {
		return fmt.Errorf("lane %d out of range, only %d lanes", c.Lane, lanes)
	}
	return nil
}

// Config specifies experiment options
type Config struct {
	Lanes                    int
	Policy                   string
	ShareFormula             string `yaml:"share_formula"`
	RegistryCapacity         int    `yaml:"registry_capacity"`
	MonitoringPort           int
	MetricsAggregationWindow time.Duration
	Tracers                  []TracerConfig
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Lanes:                    1,
		Policy:                   tracer.PolicySingle,
		ShareFormula:             tracer.DefaultShareFormula,
		RegistryCapacity:         4096,
		MonitoringPort:           4270,
		MetricsAggregationWindow: time.Duration(60) * time.Second,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Lanes <= 0 {
		return fmt.Errorf("lanes must be greater than zero")
	}
	if _, err := tracer.NewPolicy(c.Policy); err != nil {
		return err
	}
	if _, err := tracer.NewShareFormula(c.ShareFormula); err != nil {
		return fmt.Errorf("invalid share_formula: %w", err)
	}
	if c.RegistryCapacity < 0 {
		return fmt.Errorf("registry_capacity must be 0 or positive")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoringport must be 0 or positive")
	}
	if c.MetricsAggregationWindow <= 0 {
		return fmt.Errorf("metricsaggregationwindow must be greater than zero")
	}
	ids := map[int]bool{}
	pids := map[int]bool{}
	for i := range c.Tracers {
		tc := &c.Tracers[i]
		if err := tc.Validate(c.Lanes); err != nil {
			return fmt.Errorf("invalid tracer config #%d: %w", i, err)
		}
		if ids[tc.ID] {
			return fmt.Errorf("duplicate tracer id %d", tc.ID)
		}
		ids[tc.ID] = true
		if tc.PID != 0 && pids[tc.PID] {
			return fmt.Errorf("duplicate tracer pid %d", tc.PID)
		}
		pids[tc.PID] = true
	}
	return nil
}

// LaneFor returns the lane a tracer runs on
func (c *Config) LaneFor(tc TracerConfig) int {
	if tc.Lane >= 0 {
		return tc.Lane
	}
	return tracer.AssignLane(tc.ID, c.Lanes)
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, lanes int, policy string, monitoringPort int, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["lanes"] {
		warn("lanes")
		cfg.Lanes = lanes
	}
	if setFlags["policy"] {
		warn("policy")
		cfg.Policy = policy
	}
	if setFlags["monitoringport"] {
		warn("monitoringPort")
		cfg.MonitoringPort = monitoringPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
