package domain

import (
	"errors"
	"strings"
)

// ErrConfigurationNotFound is returned by configuration repositories for unknown ids.
var ErrConfigurationNotFound = errors.New("configuration not found")

// Protocol identifies the transport used to list a configuration's remote files.
type Protocol string

const (
	ProtocolFTP       Protocol = "ftp"
	ProtocolHTTPS     Protocol = "https"
	ProtocolAzureBlob Protocol = "azureblob"
	ProtocolSFTP      Protocol = "sftp"
	ProtocolS3        Protocol = "s3"
)

// Protocols is the closed set of supported protocols.
var Protocols = []Protocol{ProtocolFTP, ProtocolHTTPS, ProtocolAzureBlob, ProtocolSFTP, ProtocolS3}

// Valid reports whether p is one of the supported protocols.
func (p Protocol) Valid() bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProtocol normalises a protocol name ("AzureBlob", "FTP") to its canonical form.
func ParseProtocol(s string) Protocol {
	return Protocol(strings.ToLower(strings.TrimSpace(s)))
}

// Configuration is a tenant-owned definition of what to poll, how, on what
// schedule, and what to notify on discovery.
type Configuration struct {
	ClientID string
	ID       string
	Name     string

	Protocol Protocol
	Settings map[string]any

	PathPattern     string
	FilenamePattern string
	Extension       string

	Cron     string
	Timezone string // IANA, defaults to UTC
	Active   bool

	Events   []EventDefinition
	Commands []CommandDefinition

	LastModifiedBy string
	ETag           string
}

// Key identifies a configuration across tenants.
func (c Configuration) Key() string {
	return c.ClientID + "/" + c.ID
}

// Location returns the configured timezone name, defaulting to UTC.
func (c Configuration) Location() string {
	if c.Timezone == "" {
		return "UTC"
	}
	return c.Timezone
}

// EventDefinition describes an event broadcast for every newly discovered file.
type EventDefinition struct {
	Type     string
	Metadata map[string]string
}

// CommandDefinition describes a command sent to Target for every newly discovered file.
type CommandDefinition struct {
	Type     string
	Target   string
	Metadata map[string]string
}
