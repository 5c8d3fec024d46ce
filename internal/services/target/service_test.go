package target

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/resticron/resticron/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockWakeClient struct {
	wakeFunc      func(broadcastIP string, mac net.HardwareAddr) error
	capturedIP    string
	capturedMAC   net.HardwareAddr
	wakeCallCount int
}

func (m *mockWakeClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	m.capturedIP = broadcastIP
	m.capturedMAC = mac
	m.wakeCallCount++
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

type mockSSHSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
}

func (m *mockSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.combinedOutputFunc != nil {
		return m.combinedOutputFunc(cmd)
	}
	return []byte(""), nil
}

func (m *mockSSHSession) Close() error { return nil }

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error { return nil }

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

func newTestService(wake *mockWakeClient, httpClient *mockHTTPClient, factory *mockClientFactory) *Impl {
	if wake == nil {
		wake = &mockWakeClient{}
	}
	if httpClient == nil {
		httpClient = &mockHTTPClient{}
	}
	if factory == nil {
		factory = &mockClientFactory{}
	}
	return NewWithClients(zerolog.Nop(), wake, httpClient, factory)
}

// generateTestKey generates a valid ed25519 key for testing.
func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func shutdownConfig(t *testing.T) models.ShutdownConfig {
	return models.ShutdownConfig{
		Host:          "192.168.1.100",
		Port:          22,
		Username:      "root",
		PrivateKey:    generateTestKey(t),
		ShutdownDelay: 1,
	}
}

func TestWakeSendsPacket(t *testing.T) {
	wake := &mockWakeClient{}
	service := newTestService(wake, nil, nil)

	cfg := models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "192.168.1.255",
	}

	result, err := service.Wake(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Equal(t, "192.168.1.255", wake.capturedIP)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", wake.capturedMAC.String())
}

func TestWakeInvalidMAC(t *testing.T) {
	wake := &mockWakeClient{}
	service := newTestService(wake, nil, nil)

	result, err := service.Wake(context.Background(), models.WOLConfig{MACAddress: "not-a-mac"})
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.False(t, result.PacketSent)
	assert.Zero(t, wake.wakeCallCount)
}

func TestWakePollsUntilReady(t *testing.T) {
	attempts := 0
	httpClient := &mockHTTPClient{
		doFunc: func(_ *http.Request) (*http.Response, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		},
	}
	service := newTestService(nil, httpClient, nil)

	cfg := models.WOLConfig{
		MACAddress:   "aa:bb:cc:dd:ee:ff",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.100:9000/minio/health/live",
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := service.Wake(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.True(t, result.TargetReady)
	assert.Equal(t, 3, attempts)
}

func TestWakePollTimeout(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(_ *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	service := newTestService(nil, httpClient, nil)

	cfg := models.WOLConfig{
		MACAddress:   "aa:bb:cc:dd:ee:ff",
		BroadcastIP:  "192.168.1.255",
		PollURL:      "http://192.168.1.100:9000/",
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := service.Wake(context.Background(), cfg)
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Contains(t, result.Error.Error(), "timeout waiting for target")
}

func TestShutdownSuccess(t *testing.T) {
	var capturedCommand string
	factory := &mockClientFactory{
		newClientFunc: func(_, addr string, _ *ssh.ClientConfig) (SSHClient, error) {
			assert.Equal(t, "192.168.1.100:22", addr)
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							capturedCommand = cmd
							return []byte("Shutdown scheduled"), nil
						},
					}, nil
				},
			}, nil
		},
	}
	service := newTestService(nil, nil, factory)

	result, err := service.Shutdown(context.Background(), shutdownConfig(t))
	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Nil(t, result.Error)
	assert.Contains(t, capturedCommand, "sudo shutdown -h +1")
}

func TestShutdownImmediate(t *testing.T) {
	var capturedCommand string
	factory := &mockClientFactory{
		newClientFunc: func(_, _ string, _ *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							capturedCommand = cmd
							return nil, nil
						},
					}, nil
				},
			}, nil
		},
	}
	service := newTestService(nil, nil, factory)

	cfg := shutdownConfig(t)
	cfg.ShutdownDelay = 0
	_, err := service.Shutdown(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "sudo shutdown -h now", capturedCommand)
}

func TestShutdownConnectionFailure(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(_, _ string, _ *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	service := newTestService(nil, nil, factory)

	result, err := service.Shutdown(context.Background(), shutdownConfig(t))
	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestShutdownDroppedConnectionTolerated(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(_, _ string, _ *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(_ string) ([]byte, error) {
							return nil, errors.New("wait: remote command exited without exit status")
						},
					}, nil
				},
			}, nil
		},
	}
	service := newTestService(nil, nil, factory)

	result, err := service.Shutdown(context.Background(), shutdownConfig(t))
	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Nil(t, result.Error)
}

func TestShutdownInvalidKey(t *testing.T) {
	service := newTestService(nil, nil, nil)

	cfg := shutdownConfig(t)
	cfg.PrivateKey = []byte("not a key")
	result, err := service.Shutdown(context.Background(), cfg)
	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.True(t, strings.Contains(result.Error.Error(), "failed to parse private key"))
}
