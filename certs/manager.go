// go-rfidprog
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-rfidprog.
//
// go-rfidprog is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-rfidprog is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-rfidprog; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package certs provides locally trusted TLS certificates for the websocket
// server so browser clients can connect over wss.
package certs

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
	"github.com/rs/zerolog/log"
)

// authority issues certificates signed by a CA trusted by the system.
type authority struct {
	install  func() error
	makeCert func(hosts []string, dir string) (certFile, keyFile string, err error)
}

// newAuthority creates or loads the CA stored in caDir.
var newAuthority = func(caDir string) (*authority, error) {
	if err := os.Setenv("CAROOT", caDir); err != nil {
		return nil, fmt.Errorf("failed to set CAROOT: %w", err)
	}
	ml, err := truststore.NewLib()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize truststore: %w", err)
	}
	return &authority{
		install: ml.Install,
		makeCert: func(hosts []string, dir string) (string, string, error) {
			cert, err := ml.MakeCert(hosts, dir)
			if err != nil {
				return "", "", err
			}
			return cert.CertFile, cert.KeyFile, nil
		},
	}, nil
}

var errNoPEM = errors.New("failed to decode PEM block")

// Manager keeps a server certificate for the local host names up to date
type Manager struct {
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
}

// NewManager creates a manager storing its files below configDir.
func NewManager(configDir string) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	return &Manager{
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
	}
}

// CertFile returns the path of the server certificate.
func (m *Manager) CertFile() string { return m.certFile }

// KeyFile returns the path of the server key.
func (m *Manager) KeyFile() string { return m.keyFile }

// CACertFile returns the path of the CA certificate.
func (m *Manager) CACertFile() string { return m.caCertFile }

// EnsureCertificates returns a certificate and key valid for the current
// host names, generating them when missing or when the host names changed.
// Installing the CA may prompt the user for a password.
func (m *Manager) EnsureCertificates() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := AllHosts()
	if err != nil {
		log.Warn().Err(err).Msg("failed to list LAN addresses")
	}

	switch {
	case !m.certsExist():
		log.Info().Strs("hosts", hosts).Msg("generating TLS certificate")
	case m.hostsChanged(hosts):
		log.Info().Strs("hosts", hosts).Msg("network changed, regenerating TLS certificate")
	default:
		return m.certFile, m.keyFile, nil
	}

	if err := m.generate(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil || len(cached) != len(hosts) {
		return true
	}
	a := slices.Clone(cached)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (m *Manager) readCachedHosts() ([]string, error) {
	f, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open hosts cache: %w", err)
	}
	defer func() { _ = f.Close() }()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hosts cache: %w", err)
	}
	return hosts, nil
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	data := strings.Join(hosts, "\n") + "\n"
	if err := os.WriteFile(m.hostsFile, []byte(data), 0o600); err != nil {
		return fmt.Errorf("failed to write hosts cache: %w", err)
	}
	return nil
}

func (m *Manager) generate(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	ca, err := newAuthority(m.caDir)
	if err != nil {
		return err
	}
	log.Info().Msg("installing CA in the system trust store")
	if err := ca.install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	certFile, keyFile, err := ca.makeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := moveFile(certFile, m.certFile); err != nil {
		return err
	}
	if err := moveFile(keyFile, m.keyFile); err != nil {
		return err
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		log.Warn().Err(err).Msg("failed to cache certificate hosts")
	}
	if fp, err := m.CAFingerprint(); err == nil {
		log.Info().Str("fingerprint", fp).Str("cert", m.certFile).Msg("TLS certificate generated")
	}
	return nil
}

func moveFile(from, to string) error {
	if from == to {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move %s: %w", filepath.Base(from), err)
	}
	return nil
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon separated hex.
func (m *Manager) CAFingerprint() (string, error) {
	data, err := os.ReadFile(m.caCertFile)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "", errNoPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
