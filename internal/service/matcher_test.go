package service

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanotejeda/sondare/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestMatchOpenSSHBanner(t *testing.T) {
	m := NewMatcher(testLogger(), DefaultSignatures)

	results := m.Match(22, "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1")
	require.NotEmpty(t, results)

	best := results[0]
	assert.Equal(t, "OpenSSH", best.Name)
	assert.Equal(t, 90, best.Confidence) // 30 por puerto + 60 de la firma
	assert.Equal(t, "8.9", best.Version)
	assert.Equal(t, "OpenSSH 8.9", best.Product)
	assert.True(t, best.Secure)
	assert.Contains(t, best.ExtractedInfo["match"], "OpenSSH")

	// El ranking es no creciente en confianza
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence)
	}
}

func TestMatchGenericFallback(t *testing.T) {
	m := NewMatcher(testLogger(), DefaultSignatures)

	results := m.Match(9999, "")
	require.Len(t, results, 1)
	assert.Equal(t, "unknown", results[0].Name)
	assert.Equal(t, 50, results[0].Confidence)
	assert.Equal(t, "generic", results[0].Category)

	results = m.Match(53, "")
	require.Len(t, results, 1)
	assert.Equal(t, "dns", results[0].Name)
}

func TestMatchPortOnlyScore(t *testing.T) {
	m := NewMatcher(testLogger(), DefaultSignatures)

	// Sin banner solo puntúa el puerto: 30 para cada firma aplicable
	results := m.Match(5432, "")
	require.NotEmpty(t, results)
	assert.Equal(t, "PostgreSQL", results[0].Name)
	assert.Equal(t, 30, results[0].Confidence)
	assert.Empty(t, results[0].Version)
}

func TestNewMatcherSkipsInvalidPattern(t *testing.T) {
	sigs := []models.ServiceSignature{
		{Name: "rota", MatchPatterns: []string{"("}, ApplicablePorts: []int{1}, BaseConfidence: 50},
		{Name: "sana", MatchPatterns: []string{"ok"}, ApplicablePorts: []int{1}, BaseConfidence: 50},
	}
	m := NewMatcher(testLogger(), sigs)

	results := m.Match(1, "ok")
	require.NotEmpty(t, results)
	assert.Equal(t, "sana", results[0].Name)
}

func TestDetectServicesOnlyOpenPorts(t *testing.T) {
	m := NewMatcher(testLogger(), DefaultSignatures)

	now := time.Now().UTC()
	observations := []models.PortObservation{
		{Port: 22, Protocol: "tcp", Status: models.PortOpen, Banner: "SSH-2.0-OpenSSH_8.9", ObservedAt: now},
		{Port: 23, Protocol: "tcp", Status: models.PortOpen, Banner: "login:", ObservedAt: now},
		{Port: 81, Protocol: "tcp", Status: models.PortClosed, ObservedAt: now},
		{Port: 82, Protocol: "tcp", Status: models.PortFiltered, ObservedAt: now},
	}

	services := m.DetectServices(observations)
	require.Len(t, services, 2)

	assert.Equal(t, "OpenSSH", services[0].Name)
	require.NotEmpty(t, services[0].Advisories)

	assert.Equal(t, "Telnet", services[1].Name)
	require.NotEmpty(t, services[1].Advisories)
	assert.Equal(t, "critical", services[1].Advisories[0].Risk)
}

func TestWellKnownServiceName(t *testing.T) {
	assert.Equal(t, "ssh", WellKnownServiceName(22))
	assert.Equal(t, "ms-wbt-server", WellKnownServiceName(3389))
	assert.Equal(t, "unknown", WellKnownServiceName(48888))
}

func TestRiskLabel(t *testing.T) {
	assert.Contains(t, RiskLabel("critical"), "CRÍTICO")
	assert.Contains(t, RiskLabel("sin-nivel"), "DESCONOCIDO")
}
