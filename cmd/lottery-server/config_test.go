package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		listenAddr:       ":12345",
		listenBacklog:    5,
		requiredAgencies: 5,
		storePath:        "bets.csv",
		statusInterval:   0,
		handshakeTO:      time.Second,
		readTimeout:      time.Second,
		maxBatchBytes:    8192,
		logFormat:        "text",
		logLevel:         "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badRequiredAgencies", func(c *appConfig) { c.requiredAgencies = 0 }},
		{"badBacklog", func(c *appConfig) { c.listenBacklog = 0 }},
		{"emptyStorePath", func(c *appConfig) { c.storePath = "" }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badReadTimeout", func(c *appConfig) { c.readTimeout = 0 }},
		{"badMaxBatchBytes", func(c *appConfig) { c.maxBatchBytes = 0 }},
		{"negativeStatusInterval", func(c *appConfig) { c.statusInterval = -time.Second }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
