package engine

import (
	"context"
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
	return New(log, Options{Timeout: 200 * time.Millisecond, Concurrency: 10})
}

func TestParseTarget(t *testing.T) {
	e := testEngine()

	tgt, err := e.ParseTarget("10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, models.TargetCIDR, tgt.Type)

	_, err = e.ParseTarget("999.999.999.999")
	assert.ErrorIs(t, err, models.ErrInvalidTarget)
}

func TestScanPortsResetsCancellation(t *testing.T) {
	e := testEngine()

	e.StopScan()
	require.True(t, e.cancelled.Load())

	ch, err := e.ScanPorts(context.Background(), ScanOptions{
		Target:    "127.0.0.1",
		StartPort: 1,
		EndPort:   3,
	})
	require.NoError(t, err)
	// Arrancar un escaneo limpia el flag de la corrida anterior
	assert.False(t, e.cancelled.Load())

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestScanPortsInvalidTarget(t *testing.T) {
	e := testEngine()
	_, err := e.ScanPorts(context.Background(), ScanOptions{Target: "", StartPort: 1, EndPort: 10})
	assert.ErrorIs(t, err, models.ErrInvalidTarget)
}

func TestAvailableScriptsCatalog(t *testing.T) {
	e := testEngine()

	scripts := e.AvailableScripts()
	assert.GreaterOrEqual(t, len(scripts), 5)

	ids := make([]string, 0, len(scripts))
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "banner-grab")
	assert.Contains(t, ids, "http-title")

	sshIDs := make([]string, 0)
	for _, s := range e.ScriptsForPort(22, "ssh") {
		sshIDs = append(sshIDs, s.ID)
	}
	assert.Contains(t, sshIDs, "ssh-auth-methods")
}

func TestDetectServicesPassthrough(t *testing.T) {
	e := testEngine()

	services := e.DetectServices([]models.PortObservation{
		{Port: 22, Protocol: "tcp", Status: models.PortOpen, Banner: "SSH-2.0-OpenSSH_8.9"},
	})
	require.Len(t, services, 1)
	assert.Equal(t, "OpenSSH", services[0].Name)
}
