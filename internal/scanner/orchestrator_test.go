package scanner

import (
	"context"
	"io"
	"net"
	"runtime"
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

// fakeProber veredicto determinista por puerto, sin red
type fakeProber struct {
	calls int64
}

func (f *fakeProber) Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result {
	atomic.AddInt64(&f.calls, 1)
	status := models.PortClosed
	if tgt.Port%5 == 0 {
		status = models.PortOpen
	}
	return probe.Result{Status: status, Latency: 2 * time.Millisecond}
}

func TestScanPortsOneObservationPerPort(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	var lastProgress float64
	var resultCount int

	ch, err := o.ScanPorts(context.Background(), Options{
		Target:      "10.0.0.1",
		StartPort:   1,
		EndPort:     40,
		Concurrency: 10,
		Timeout:     time.Second,
		OnProgress:  func(percent float64, lastPort int) { lastProgress = percent },
		OnResult:    func(models.PortObservation) { resultCount++ },
	})
	require.NoError(t, err)

	seen := make(map[int]models.PortStatus)
	for obs := range ch {
		_, dup := seen[obs.Port]
		require.False(t, dup, "puerto %d observado dos veces", obs.Port)
		seen[obs.Port] = obs.Status
	}

	require.Len(t, seen, 40)
	assert.Equal(t, int64(40), atomic.LoadInt64(&prober.calls))
	assert.Equal(t, 40, resultCount)
	assert.InDelta(t, 100.0, lastProgress, 0.001)

	assert.Equal(t, models.PortOpen, seen[5])
	assert.Equal(t, models.PortOpen, seen[40])
	assert.Equal(t, models.PortClosed, seen[7])
}

func TestScanPortsInvalidRange(t *testing.T) {
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), &fakeProber{}, &cancelled)

	for _, r := range [][2]int{{0, 10}, {10, 5}, {1, 70000}} {
		_, err := o.ScanPorts(context.Background(), Options{Target: "10.0.0.1", StartPort: r[0], EndPort: r[1]})
		assert.Error(t, err, "rango %v", r)
	}
}

func TestScanPortsCancelledBeforeStart(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	cancelled.Store(true)
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	ch, err := o.ScanPorts(context.Background(), Options{
		Target: "10.0.0.1", StartPort: 1, EndPort: 100, Concurrency: 10, Timeout: time.Second,
	})
	require.NoError(t, err)

	var count int
	for range ch {
		count++
	}
	// Ningún lote nuevo se despacha con el flag levantado
	assert.Zero(t, count)
	assert.Zero(t, atomic.LoadInt64(&prober.calls))
}

// stoppingProber levanta el flag compartido en cada probe, como hace StopScan
// mientras el primer lote está en vuelo
type stoppingProber struct {
	cancelled *atomic.Bool
	calls     int64
}

func (s *stoppingProber) Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result {
	atomic.AddInt64(&s.calls, 1)
	s.cancelled.Store(true)
	return probe.Result{Status: models.PortClosed, Latency: time.Millisecond}
}

func TestScanPortsStoppedMidScanDeliversFirstBatchOnly(t *testing.T) {
	var cancelled atomic.Bool
	prober := &stoppingProber{cancelled: &cancelled}
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	ch, err := o.ScanPorts(context.Background(), Options{
		Target: "10.0.0.1", StartPort: 1, EndPort: 100, Concurrency: 10, Timeout: time.Second,
	})
	require.NoError(t, err)

	var count int
	for range ch {
		count++
	}

	// El lote en vuelo entrega todas sus observaciones; ningún puerto del
	// segundo lote llega a sondearse
	assert.Equal(t, 10, count)
	assert.Equal(t, int64(10), atomic.LoadInt64(&prober.calls))
}

func TestScanPortsProgressMonotonic(t *testing.T) {
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), &fakeProber{}, &cancelled)

	var percents []float64
	ch, err := o.ScanPorts(context.Background(), Options{
		Target:      "10.0.0.1",
		StartPort:   1,
		EndPort:     40,
		Concurrency: 10,
		Timeout:     time.Second,
		OnProgress:  func(percent float64, lastPort int) { percents = append(percents, percent) },
	})
	require.NoError(t, err)
	for range ch {
	}

	require.Len(t, percents, 40)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1],
			"el progreso retrocedió en la llamada %d", i)
	}
	assert.InDelta(t, 100.0, percents[len(percents)-1], 0.001)
}

func TestScanPortsAbandonedConsumerReleasesBatch(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := o.ScanPorts(ctx, Options{
		Target: "10.0.0.1", StartPort: 1, EndPort: 30, Concurrency: 10, Timeout: time.Second,
	})
	require.NoError(t, err)

	// Nadie consume el canal: el segundo lote queda esperando sitio en el
	// búfer hasta que el contexto se cancela
	time.Sleep(250 * time.Millisecond)
	cancel()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond, "los goroutines del lote no terminaron tras cancelar")
	assert.Equal(t, int64(20), atomic.LoadInt64(&prober.calls))
}

func TestScanPortsContextCancelled(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := o.ScanPorts(ctx, Options{
		Target: "10.0.0.1", StartPort: 1, EndPort: 100, Concurrency: 10, Timeout: time.Second,
	})
	require.NoError(t, err)

	var count int
	for range ch {
		count++
	}
	assert.Zero(t, count)
}

func TestDiscoverHostsOneObservationPerHost(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	tgt := &models.Target{Type: models.TargetRange, Value: "10.0.0.1-4"}

	// Con el fake, el puerto 80 responde closed ⇒ tcp-connect marca el host vivo
	results, err := o.DiscoverHosts(context.Background(), tgt, DiscoveryOptions{
		Methods:     []string{MethodTCPConnect},
		Timeout:     time.Second,
		Concurrency: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	seen := make(map[string]bool)
	for _, r := range results {
		require.False(t, seen[r.IP], "host %s observado dos veces", r.IP)
		seen[r.IP] = true
		assert.True(t, r.IsAlive)
		assert.Equal(t, MethodTCPConnect, r.Method)
	}
}

func TestDiscoverHostsHostnameResolvesIP(t *testing.T) {
	prober := &fakeProber{}
	var cancelled atomic.Bool
	o := NewOrchestrator(testLogger(), prober, &cancelled)

	tgt := &models.Target{Type: models.TargetHostname, Value: "localhost"}

	// Aunque el host se marque vivo por tcp-connect (sin pasar por dns),
	// el campo IP debe llevar una dirección y no el nombre
	results, err := o.DiscoverHosts(context.Background(), tgt, DiscoveryOptions{
		Methods: []string{MethodTCPConnect},
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	obs := results[0]
	assert.True(t, obs.IsAlive)
	assert.Equal(t, MethodTCPConnect, obs.Method)
	assert.Equal(t, "localhost", obs.Hostname)
	assert.NotNil(t, net.ParseIP(obs.IP), "IP %q no es una dirección", obs.IP)
}
