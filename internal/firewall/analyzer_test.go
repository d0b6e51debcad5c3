package firewall

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// steadyProber latencia fija: timing perfectamente consistente
type steadyProber struct{}

func (steadyProber) Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result {
	return probe.Result{Status: models.PortOpen, Latency: 10 * time.Millisecond}
}

// jitterProber latencias alternantes: timing errático sin señal
type jitterProber struct {
	n int64
}

func (p *jitterProber) Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result {
	latencies := []time.Duration{5 * time.Millisecond, 40 * time.Millisecond, 90 * time.Millisecond}
	i := atomic.AddInt64(&p.n, 1)
	return probe.Result{Status: models.PortOpen, Latency: latencies[i%3]}
}

// El host es de TEST-NET-1: las ráfagas HTTP fallan siempre y rápido con el
// timeout corto, así el veredicto depende solo de los resultados inyectados.
const unreachableHost = "192.0.2.1"

func TestAnalyzeMostlyFilteredDetectsStateful(t *testing.T) {
	a := NewAnalyzer(testLogger(), steadyProber{}, 150*time.Millisecond)
	tgt := &models.Target{Type: models.TargetIP, Value: unreachableHost}

	var portResults []models.PortObservation
	for p := 10; p <= 17; p++ {
		portResults = append(portResults, models.PortObservation{
			Port: p, Status: models.PortFiltered, LatencyMs: 150,
		})
	}
	portResults = append(portResults,
		models.PortObservation{Port: 80, Status: models.PortOpen, LatencyMs: 12},
		models.PortObservation{Port: 443, Status: models.PortOpen, LatencyMs: 14},
	)

	var stages []string
	analysis, err := a.Analyze(context.Background(), tgt, portResults,
		func(percent float64, stage string) { stages = append(stages, stage) })
	require.NoError(t, err)

	assert.True(t, analysis.Detected)
	assert.Greater(t, analysis.Confidence, detectionThreshold)
	assert.Equal(t, "stateful", analysis.Type)
	assert.Equal(t, 8, analysis.FilteredPortCount)
	assert.False(t, analysis.RateLimitDetected)
	assert.NotEmpty(t, analysis.Indicators)
	assert.NotEmpty(t, stages)
	assert.Equal(t, "análisis completado", stages[len(stages)-1])
}

func TestAnalyzeNoSignalNotDetected(t *testing.T) {
	a := NewAnalyzer(testLogger(), &jitterProber{}, 150*time.Millisecond)
	tgt := &models.Target{Type: models.TargetIP, Value: unreachableHost}

	analysis, err := a.Analyze(context.Background(), tgt, nil, nil)
	require.NoError(t, err)

	assert.False(t, analysis.Detected)
	assert.LessOrEqual(t, analysis.Confidence, detectionThreshold)
	assert.Equal(t, "unknown", analysis.Type)
}

func TestAnalyzeDetectedIffAboveThreshold(t *testing.T) {
	a := NewAnalyzer(testLogger(), steadyProber{}, 150*time.Millisecond)
	tgt := &models.Target{Type: models.TargetIP, Value: unreachableHost}

	// Timing consistente del fake ⇒ confianza 35 > umbral aunque los puertos no
	// aporten nada
	analysis, err := a.Analyze(context.Background(), tgt, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, analysis.Confidence > detectionThreshold, analysis.Detected)
}

func TestAnalyzeNilTarget(t *testing.T) {
	a := NewAnalyzer(testLogger(), steadyProber{}, time.Second)
	_, err := a.Analyze(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

func TestAnalyzeAllFilteredHighConfidence(t *testing.T) {
	a := NewAnalyzer(testLogger(), &jitterProber{}, 150*time.Millisecond)
	tgt := &models.Target{Type: models.TargetIP, Value: unreachableHost}

	var portResults []models.PortObservation
	for p := 20; p <= 25; p++ {
		portResults = append(portResults, models.PortObservation{Port: p, Status: models.PortTimeout, LatencyMs: 150})
	}

	analysis, err := a.Analyze(context.Background(), tgt, portResults, nil)
	require.NoError(t, err)

	assert.True(t, analysis.Detected)
	assert.GreaterOrEqual(t, analysis.Confidence, 70)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "sin análisis", Describe(nil))
	assert.Contains(t, Describe(&models.FirewallAnalysis{Detected: false, Confidence: 10}), "sin firewall")
	assert.Contains(t, Describe(&models.FirewallAnalysis{
		Detected: true, Type: "stateful", Confidence: 80, Indicators: []string{"x"},
	}), "stateful")
}
