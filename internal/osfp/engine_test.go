package osfp

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanotejeda/sondare/pkg/models"
)

func testEngine() *Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewEngine(log)
}

func TestFingerprintTTL128IsWindows(t *testing.T) {
	e := testEngine()
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.5"}

	discovery := []models.DiscoveryObservation{
		{IP: "10.0.0.5", TTL: 128, IsAlive: true, ObservedAt: time.Now().UTC()},
	}

	candidates := e.Fingerprint(tgt, nil, discovery)
	require.NotEmpty(t, candidates)

	assert.Equal(t, "Windows 10/11", candidates[0].Name)
	assert.Equal(t, "Windows", candidates[0].Family)
	assert.Equal(t, 70, candidates[0].Confidence)
	assert.Contains(t, candidates[0].ContributingMethods, MethodTTL)
}

func TestFingerprintMergesByNameAndFamily(t *testing.T) {
	e := testEngine()
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.5"}

	// 445 y 3389 aportan el mismo candidato "Windows": debe quedar uno solo
	// con la confianza máxima de los dos
	openPorts := []models.PortObservation{
		{Port: 445, Status: models.PortOpen},
		{Port: 3389, Status: models.PortOpen},
	}

	candidates := e.Fingerprint(tgt, openPorts, nil)
	require.NotEmpty(t, candidates)

	windows := 0
	for _, c := range candidates {
		if c.Name == "Windows" && c.Family == "Windows" {
			windows++
			assert.Equal(t, 65, c.Confidence)
			assert.Contains(t, c.ContributingMethods, MethodServiceHints)
		}
	}
	assert.Equal(t, 1, windows)
}

func TestFingerprintUnionsMethods(t *testing.T) {
	e := testEngine()
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.5"}

	// El banner nginx del 80 y el ssh del 22 aportan "Linux" por vías distintas
	openPorts := []models.PortObservation{
		{Port: 80, Status: models.PortOpen, Banner: "HTTP/1.1 200 OK Server: nginx/1.24.0"},
		{Port: 22, Status: models.PortOpen, Banner: "SSH-2.0-OpenSSH_8.9"},
	}

	candidates := e.Fingerprint(tgt, openPorts, nil)
	require.NotEmpty(t, candidates)

	var linux *models.OSFingerprintCandidate
	for i := range candidates {
		if candidates[i].Name == "Linux" {
			linux = &candidates[i]
			break
		}
	}
	require.NotNil(t, linux)
	assert.Equal(t, 40, linux.Confidence) // gana la contribución más alta
	assert.Contains(t, linux.ContributingMethods, MethodHTTPHeaders)
	assert.Contains(t, linux.ContributingMethods, MethodServiceHints)
}

func TestFingerprintOrderAndCap(t *testing.T) {
	e := testEngine()
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.5"}

	discovery := []models.DiscoveryObservation{{IP: "10.0.0.5", TTL: 64, IsAlive: true}}
	openPorts := []models.PortObservation{
		{Port: 80, Status: models.PortOpen, Banner: "HTTP/1.1 200 OK Server: Apache/2.4.57 (Ubuntu)"},
		{Port: 22, Status: models.PortOpen},
		{Port: 2049, Status: models.PortOpen},
		{Port: 631, Status: models.PortOpen},
		{Port: 23, Status: models.PortOpen},
	}

	candidates := e.Fingerprint(tgt, openPorts, discovery)
	require.NotEmpty(t, candidates)
	assert.LessOrEqual(t, len(candidates), MaxCandidates)

	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Confidence, candidates[i].Confidence)
	}

	// Sin duplicados por (nombre, familia)
	type key struct{ name, family string }
	seen := make(map[key]bool)
	for _, c := range candidates {
		k := key{c.Name, c.Family}
		require.False(t, seen[k], "candidato duplicado %v", k)
		seen[k] = true
	}
}

func TestFingerprintNoEvidence(t *testing.T) {
	e := testEngine()
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.5"}

	candidates := e.Fingerprint(tgt, nil, nil)
	assert.Empty(t, candidates)
}
