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

package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCA(t *testing.T, path string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "rfidprog test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// fakeAuthority replaces the system trust store for the duration of a test.
type fakeAuthority struct {
	installErr error
	hosts      []string
	installs   int
	certs      int
}

func (f *fakeAuthority) use(t *testing.T) {
	t.Helper()
	orig := newAuthority
	t.Cleanup(func() { newAuthority = orig })
	newAuthority = func(caDir string) (*authority, error) {
		return &authority{
			install: func() error {
				f.installs++
				return f.installErr
			},
			makeCert: func(hosts []string, dir string) (string, string, error) {
				f.certs++
				f.hosts = hosts
				cert := filepath.Join(dir, "localhost+1.pem")
				key := filepath.Join(dir, "localhost+1-key.pem")
				if err := os.WriteFile(cert, []byte("cert"), 0o600); err != nil {
					return "", "", err
				}
				if err := os.WriteFile(key, []byte("key"), 0o600); err != nil {
					return "", "", err
				}
				return cert, key, nil
			},
		}, nil
	}
}

func TestNewManager_Paths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	assert.Equal(t, filepath.Join(dir, "tls", "server.crt"), m.CertFile())
	assert.Equal(t, filepath.Join(dir, "tls", "server.key"), m.KeyFile())
	assert.Equal(t, filepath.Join(dir, "ca", "rootCA.pem"), m.CACertFile())
}

func TestHostsChanged(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	require.NoError(t, os.MkdirAll(m.tlsDir, 0o700))

	hosts := []string{"localhost", "127.0.0.1", "192.168.1.20"}
	assert.True(t, m.hostsChanged(hosts), "no cache yet")

	require.NoError(t, m.writeCachedHosts(hosts))
	assert.False(t, m.hostsChanged(hosts))
	assert.False(t, m.hostsChanged([]string{"192.168.1.20", "localhost", "127.0.0.1"}), "order is ignored")
	assert.True(t, m.hostsChanged([]string{"localhost", "127.0.0.1", "10.0.0.5"}))
	assert.True(t, m.hostsChanged([]string{"localhost", "127.0.0.1"}))
}

func TestReadCachedHosts_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	require.NoError(t, os.MkdirAll(m.tlsDir, 0o700))
	require.NoError(t, os.WriteFile(m.hostsFile, []byte("localhost\n\n  127.0.0.1  \n"), 0o600))

	hosts, err := m.readCachedHosts()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, hosts)
}

func TestCAFingerprint(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	_, err := m.CAFingerprint()
	require.Error(t, err)

	cert := writeCA(t, m.caCertFile)
	fp, err := m.CAFingerprint()
	require.NoError(t, err)

	sum := sha256.Sum256(cert.Raw)
	parts := strings.Split(fp, ":")
	require.Len(t, parts, len(sum))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(sum[:1])), parts[0])
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(sum[31:])), parts[31])
}

func TestCAFingerprint_NotPEM(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir())
	require.NoError(t, os.MkdirAll(m.caDir, 0o700))
	require.NoError(t, os.WriteFile(m.caCertFile, []byte("garbage"), 0o600))

	_, err := m.CAFingerprint()
	assert.ErrorIs(t, err, errNoPEM)
}

//nolint:paralleltest // replaces newAuthority
func TestEnsureCertificates_GeneratesOnce(t *testing.T) {
	fake := &fakeAuthority{}
	fake.use(t)

	m := NewManager(t.TempDir())
	certFile, keyFile, err := m.EnsureCertificates()
	require.NoError(t, err)
	assert.Equal(t, m.CertFile(), certFile)
	assert.Equal(t, m.KeyFile(), keyFile)
	assert.FileExists(t, certFile)
	assert.FileExists(t, keyFile)
	assert.Equal(t, 1, fake.installs)
	assert.Contains(t, fake.hosts, "localhost")

	cached, err := m.readCachedHosts()
	require.NoError(t, err)
	assert.Equal(t, fake.hosts, cached)

	_, _, err = m.EnsureCertificates()
	require.NoError(t, err)
	assert.Equal(t, 1, fake.certs, "unchanged hosts reuse the certificate")
}

//nolint:paralleltest // replaces newAuthority
func TestEnsureCertificates_RegeneratesOnHostChange(t *testing.T) {
	fake := &fakeAuthority{}
	fake.use(t)

	m := NewManager(t.TempDir())
	_, _, err := m.EnsureCertificates()
	require.NoError(t, err)
	require.NoError(t, m.writeCachedHosts([]string{"localhost", "10.99.99.99"}))

	_, _, err = m.EnsureCertificates()
	require.NoError(t, err)
	assert.Equal(t, 2, fake.certs)
}

//nolint:paralleltest // replaces newAuthority
func TestEnsureCertificates_InstallFails(t *testing.T) {
	fake := &fakeAuthority{installErr: errors.New("no sudo")}
	fake.use(t)

	m := NewManager(t.TempDir())
	_, _, err := m.EnsureCertificates()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to install CA")
	assert.Zero(t, fake.certs)
	assert.NoFileExists(t, m.CertFile())
}

func TestAllHosts(t *testing.T) {
	t.Parallel()

	hosts, err := AllHosts()
	require.GreaterOrEqual(t, len(hosts), 2)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, hosts[:2])
	if err == nil {
		for _, h := range hosts[2:] {
			assert.NotEqual(t, "127.0.0.1", h)
		}
	}
}
