// Package zoneconfig implements the config loader (C1): parsing one
// zone-routing file into a validated Config.
package zoneconfig

import (
	"fmt"
	"net"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/miekg/dns"

	"github.com/polyresolver/polyresolver/internal/dnsname"
	"github.com/polyresolver/polyresolver/internal/zoneerrors"
)

// Protocol is the transport used toward a zone's upstream forwarders.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
)

// rawConfig is the literal YAML shape; domain_name/forwarders/protocol are
// all required and unknown fields are rejected.
type rawConfig struct {
	DomainName string   `yaml:"domain_name"`
	Forwarders []string `yaml:"forwarders"`
	Protocol   string   `yaml:"protocol"`
}

// Config is one parsed zone-routing rule.
type Config struct {
	DomainName dnsname.Name
	Forwarders []net.IP
	Protocol   Protocol
}

// ConfigUpdate is emitted by the config watcher (C2) for every observed
// change. Config is nil to signal removal of ConfigFilename.
type ConfigUpdate struct {
	ConfigFilename string
	Config         *Config
}

// Load reads path in full and parses it as a single zone-routing YAML
// document, validating it per fromRaw.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &zoneerrors.ParseError{Path: path, Reason: err.Error()}
	}

	var raw rawConfig
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.DisallowUnknownField()); err != nil {
		return nil, &zoneerrors.ParseError{Path: path, Reason: err.Error()}
	}

	cfg, reason := fromRaw(raw)
	if reason != "" {
		return nil, &zoneerrors.ParseError{Path: path, Reason: reason}
	}

	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, string) {
	if raw.DomainName == "" {
		return nil, "domain_name is required"
	}

	if _, ok := dns.IsDomainName(raw.DomainName); !ok {
		return nil, fmt.Sprintf("invalid domain_name %q", raw.DomainName)
	}

	if len(raw.Forwarders) == 0 {
		return nil, "forwarders must be non-empty"
	}

	proto := Protocol(raw.Protocol)
	switch proto {
	case ProtocolUDP, ProtocolTCP, ProtocolTLS:
	default:
		return nil, fmt.Sprintf("unknown protocol %q", raw.Protocol)
	}

	forwarders := make([]net.IP, 0, len(raw.Forwarders))

	for _, addr := range raw.Forwarders {
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, fmt.Sprintf("invalid forwarder address %q", addr)
		}

		forwarders = append(forwarders, ip)
	}

	return &Config{
		DomainName: dnsname.Parse(raw.DomainName),
		Forwarders: forwarders,
		Protocol:   proto,
	}, ""
}
