package scripts

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
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

func okScript(id string) SecurityScript {
	return SecurityScript{
		ID:       id,
		Name:     id,
		Category: "test",
		Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
			return "ok", models.SeverityInfo, nil, nil
		},
	}
}

func TestRunExpandsPerOpenPort(t *testing.T) {
	e := NewEngine(testLogger(), []SecurityScript{okScript("demo")})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	openPorts := []models.PortObservation{
		{Port: 80, Status: models.PortOpen},
		{Port: 443, Status: models.PortOpen},
		{Port: 81, Status: models.PortClosed},
	}

	var progress [][2]int
	results, err := e.Run(context.Background(), []string{"demo"}, tgt, openPorts, RunOptions{
		OnProgress: func(completed, total int) { progress = append(progress, [2]int{completed, total}) },
	})
	require.NoError(t, err)

	// Solo los puertos abiertos generan work items
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.ScriptSuccess, r.State)
		assert.Equal(t, "ok", r.Output)
	}
	require.NotEmpty(t, progress)
	assert.Equal(t, [2]int{2, 2}, progress[len(progress)-1])
}

func TestRunHostLevelSingleItem(t *testing.T) {
	hostScript := okScript("host-demo")
	hostScript.HostLevel = true

	e := NewEngine(testLogger(), []SecurityScript{hostScript})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	openPorts := []models.PortObservation{
		{Port: 80, Status: models.PortOpen},
		{Port: 443, Status: models.PortOpen},
	}

	results, err := e.Run(context.Background(), []string{"host-demo"}, tgt, openPorts, RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Port)
}

func TestRunUnknownScriptIgnored(t *testing.T) {
	e := NewEngine(testLogger(), []SecurityScript{okScript("demo")})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	results, err := e.Run(context.Background(), []string{"inexistente"}, tgt,
		[]models.PortObservation{{Port: 80, Status: models.PortOpen}}, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunDuplicateInFlight(t *testing.T) {
	e := NewEngine(testLogger(), []SecurityScript{okScript("demo")})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	// Simular una ejecución ya en vuelo del mismo triple (script, host, puerto)
	require.True(t, e.acquire("demo|10.0.0.1|80"))
	defer e.release("demo|10.0.0.1|80")

	results, err := e.Run(context.Background(), []string{"demo"}, tgt,
		[]models.PortObservation{{Port: 80, Status: models.PortOpen}}, RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, models.ScriptError, results[0].State)
	assert.Contains(t, results[0].Output, "already running")
}

func TestRunPanicBecomesResult(t *testing.T) {
	panicScript := SecurityScript{
		ID:       "explota",
		Name:     "explota",
		Category: "test",
		Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
			panic("boom")
		},
	}
	e := NewEngine(testLogger(), []SecurityScript{panicScript})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	results, err := e.Run(context.Background(), []string{"explota"}, tgt,
		[]models.PortObservation{{Port: 80, Status: models.PortOpen}}, RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ScriptError, results[0].State)
	assert.Contains(t, results[0].Output, "pánico")
}

func TestRunErrorBecomesResult(t *testing.T) {
	failScript := SecurityScript{
		ID:       "falla",
		Name:     "falla",
		Category: "test",
		Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
			return "", models.SeverityHigh, nil, fmt.Errorf("conexión rechazada")
		},
	}
	e := NewEngine(testLogger(), []SecurityScript{failScript})
	tgt := &models.Target{Type: models.TargetIP, Value: "10.0.0.1"}

	results, err := e.Run(context.Background(), []string{"falla"}, tgt,
		[]models.PortObservation{{Port: 80, Status: models.PortOpen}}, RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, models.ScriptError, results[0].State)
	// La severidad de un fallo siempre baja a info: no hubo hallazgo real
	assert.Equal(t, models.SeverityInfo, results[0].Severity)
	assert.Contains(t, results[0].Output, "rechazada")
}

func TestHTTPTitleAgainstLocalServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><head><title>Panel de Admin</title></head></html>")
	}))
	defer ts.Close()

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	e := NewEngine(testLogger(), DefaultCatalog(2*time.Second))
	tgt := &models.Target{Type: models.TargetIP, Value: host}

	// El banner hace de pista de servicio para el predicado del script
	openPorts := []models.PortObservation{
		{Port: port, Status: models.PortOpen, Banner: "HTTP/1.1 200 OK"},
	}

	results, err := e.Run(context.Background(), []string{"http-title"}, tgt, openPorts, RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, models.ScriptSuccess, results[0].State)
	assert.Equal(t, models.SeverityInfo, results[0].Severity)
	assert.Equal(t, "Panel de Admin", results[0].Output)
	assert.Contains(t, results[0].Findings, "title: Panel de Admin")
}

func TestForPortFiltersByPredicate(t *testing.T) {
	e := NewEngine(testLogger(), DefaultCatalog(time.Second))

	sshScripts := e.ForPort(22, "ssh")
	ids := make([]string, 0, len(sshScripts))
	for _, s := range sshScripts {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "ssh-auth-methods")
	assert.Contains(t, ids, "banner-grab") // sin predicado: aplica siempre
	assert.NotContains(t, ids, "ftp-anon")
	assert.NotContains(t, ids, "reverse-lookup") // de host, no de puerto
}
