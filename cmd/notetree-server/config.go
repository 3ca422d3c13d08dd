package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config specifies the file format of config files.
type Config struct {
	ServerAddr  string     `yaml:"addr"`
	MetricsAddr string     `yaml:"metrics-addr"` // Optional metrics/pprof listener.
	TLSConfig   *TLSConfig `yaml:"tls"`
	tlsConfig   *tls.Config

	DatabaseFile string `yaml:"db"`
	HomeRedirect string `yaml:"home"` // Optional redirect for the root path.

	// ProgramID is the opaque process-wide program identifier that scopes
	// authority derivation, hex-encoded. Fixed at startup, never mutated.
	ProgramID string `yaml:"program-id"`
	programID [32]byte
}

// TLSConfig specifies the API server's TLS config. TLS on the server also
// starts requiring a valid client certificate.
type TLSConfig struct {
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	ClientCA string `yaml:"client-ca"` // CA for validating client certificates.
}

func ReadConfig(filename string) (*Config, error) {
	// Read from file and parse.
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var parsed Config
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	// Check that all required fields are populated.
	if parsed.ServerAddr == "" {
		return nil, fmt.Errorf("field not provided: addr")
	} else if parsed.DatabaseFile == "" {
		return nil, fmt.Errorf("field not provided: db")
	} else if parsed.ProgramID == "" {
		return nil, fmt.Errorf("field not provided: program-id")
	}

	// Parse TLS config if necessary.
	if parsed.TLSConfig != nil {
		cert, err := tls.LoadX509KeyPair(parsed.TLSConfig.Cert, parsed.TLSConfig.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate/key: %v", err)
		}

		certPool := x509.NewCertPool()
		caCerts, err := os.ReadFile(parsed.TLSConfig.ClientCA)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS client CA: %v", err)
		} else if ok := certPool.AppendCertsFromPEM(caCerts); !ok {
			return nil, fmt.Errorf("no client CA certificates successfully parsed from file")
		}

		parsed.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    certPool,
		}
	}

	// Parse the program identifier.
	id, err := hex.DecodeString(parsed.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse program id: %v", err)
	} else if len(id) != 32 {
		return nil, fmt.Errorf("program id is wrong size: wanted=%v, got=%v", 32, len(id))
	}
	copy(parsed.programID[:], id)

	return &parsed, nil
}
