// Package firewall sintetiza un veredicto de presencia de firewall a partir de
// cinco sub-análisis estadísticos sobre la superficie de sondeo del sandbox.
// Todo es inferencia best-effort: no hay acceso a paquetes ni a ICMP.
package firewall

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/pkg/models"
)

const (
	// timingSamples muestras por puerto en el análisis de timing
	timingSamples = 3
	// timingPorts máximo de puertos muestreados
	timingPorts = 3
	// burstSize tamaño de la ráfaga del probe de rate-limit
	burstSize = 6
	// detectionThreshold detected == confidence > detectionThreshold
	detectionThreshold = 30
)

// Prober mismo contrato que el del orquestador; los tests inyectan fakes
type Prober interface {
	Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result
}

// Analyzer corre los cinco sub-análisis en secuencia
type Analyzer struct {
	log     *logrus.Logger
	prober  Prober
	client  *http.Client
	timeout time.Duration
}

// NewAnalyzer crea el analizador con su cliente HTTP propio para las ráfagas
func NewAnalyzer(log *logrus.Logger, prober Prober, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Analyzer{
		log:    log,
		prober: prober,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// subResult contribución de un sub-análisis al veredicto final
type subResult struct {
	confidence      int
	indicators      []string
	recommendations []string
}

// Analyze corre los cinco sub-análisis reportando progreso incremental.
// La confianza final es el MÁXIMO de las contribuciones, no la suma:
// una sola señal fuerte basta y varias débiles no deben inflarse entre sí.
func (a *Analyzer) Analyze(ctx context.Context, tgt *models.Target, portResults []models.PortObservation, onProgress func(percent float64, stage string)) (*models.FirewallAnalysis, error) {
	if tgt == nil {
		return nil, fmt.Errorf("target nulo")
	}

	report := func(pct float64, stage string) {
		a.log.Debugf("análisis de firewall %s: %s (%.0f%%)", tgt.Value, stage, pct)
		if onProgress != nil {
			onProgress(pct, stage)
		}
	}

	analysis := &models.FirewallAnalysis{
		Indicators:      []string{},
		Recommendations: []string{},
	}

	// 1. Respuestas de puertos ya observadas
	report(10, "analizando respuestas de puertos")
	portSub, avgMs, varianceMs, filteredCount := a.analyzePortResponses(portResults)
	analysis.AvgResponseTimeMs = avgMs
	analysis.ResponseVarianceMs = varianceMs
	analysis.FilteredPortCount = filteredCount

	// 2. Timing con probes repetidos
	report(30, "midiendo consistencia de timing")
	timingSub, pattern := a.analyzeTiming(ctx, tgt.Value, portResults)

	// 3. Ráfaga de rate-limit
	report(50, "sondeando rate limiting")
	rateSub, rateLimited := a.probeRateLimit(ctx, tgt.Value, portResults)
	analysis.RateLimitDetected = rateLimited

	// 4. Patrón de respuesta sobre el conjunto de puertos
	report(70, "analizando patrón de filtrado")
	patternSub := a.analyzeResponsePattern(portResults)

	// 5. Variantes de request para filtrado selectivo
	report(90, "comparando variantes de request")
	stealthSub := a.probeStealthVariants(ctx, tgt.Value, portResults)

	maxConf := 0
	for _, sub := range []subResult{portSub, timingSub, rateSub, patternSub, stealthSub} {
		if sub.confidence > maxConf {
			maxConf = sub.confidence
		}
		analysis.Indicators = append(analysis.Indicators, sub.indicators...)
		analysis.Recommendations = append(analysis.Recommendations, sub.recommendations...)
	}

	analysis.Confidence = models.ClampConfidence(maxConf)
	analysis.Detected = analysis.Confidence > detectionThreshold
	analysis.Type = inferType(analysis, portResults, pattern)

	report(100, "análisis completado")
	return analysis, nil
}

// analyzePortResponses sub-análisis 1: conteos y varianza de latencia sobre
// resultados existentes
func (a *Analyzer) analyzePortResponses(portResults []models.PortObservation) (subResult, float64, float64, int) {
	var sub subResult
	open, closed, filtered := countStatuses(portResults)

	var latencies []float64
	for _, r := range portResults {
		if r.Status == models.PortOpen || r.Status == models.PortClosed {
			latencies = append(latencies, float64(r.LatencyMs))
		}
	}

	var avgMs, varianceMs float64
	if len(latencies) > 0 {
		avgMs, _ = stats.Mean(latencies)
		varianceMs, _ = stats.Variance(latencies)
	}

	if filtered > 0 && open == 0 && closed == 0 {
		sub.confidence = 70
		sub.indicators = append(sub.indicators, "todos los puertos que respondieron aparecen filtrados")
		sub.recommendations = append(sub.recommendations, "Verificar conectividad básica antes de asumir firewall total")
	} else if open > 0 && float64(filtered)/float64(open) > 3 {
		sub.confidence = 50
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("proporción filtrados:abiertos alta (%.1f)", float64(filtered)/float64(open)))
	}

	return sub, avgMs, varianceMs, filtered
}

// analyzeTiming sub-análisis 2: probes repetidos (timingSamples × hasta
// timingPorts puertos) y clasificación del patrón por desviación estándar
// relativa a la media y presencia de muestras muy lentas
func (a *Analyzer) analyzeTiming(ctx context.Context, host string, portResults []models.PortObservation) (subResult, string) {
	var sub subResult

	ports := samplePorts(portResults)
	var samples []float64
	for _, port := range ports {
		for i := 0; i < timingSamples; i++ {
			res := a.prober.Probe(ctx, models.ProbeTarget{Host: host, Port: port, Protocol: "tcp"},
				a.timeout, models.ScanConnect)
			samples = append(samples, float64(res.Latency.Milliseconds()))
		}
	}
	if len(samples) < timingSamples {
		return sub, "unknown"
	}

	mean, _ := stats.Mean(samples)
	stddev, _ := stats.StandardDeviation(samples)
	minMs, _ := stats.Min(samples)
	maxMs, _ := stats.Max(samples)

	outliers := 0
	for _, s := range samples {
		if stddev > 0 && math.Abs(s-mean) > 2*stddev {
			outliers++
		}
	}

	verySlow := maxMs > float64(a.timeout.Milliseconds())*0.8

	var pattern string
	switch {
	case verySlow && outliers > 0:
		pattern = "rate-limited"
		sub.confidence = 55
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("muestras anómalamente lentas (max %.0fms sobre media %.0fms)", maxMs, mean))
		sub.recommendations = append(sub.recommendations, "Reducir la concurrencia y espaciar los probes")
	case mean > 0 && stddev/mean < 0.15:
		pattern = "consistent"
		sub.confidence = 35
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("timing uniforme (σ %.1fms, media %.1fms): posible dispositivo de filtrado en línea", stddev, mean))
	case mean > 0 && stddev/mean < 0.5:
		pattern = "variable"
		sub.confidence = 20
	default:
		pattern = "random"
		sub.confidence = 10
	}

	a.log.Debugf("timing %s: media=%.1fms σ=%.1fms min=%.0f max=%.0f outliers=%d patrón=%s",
		host, mean, stddev, minMs, maxMs, outliers, pattern)
	return sub, pattern
}

// probeRateLimit sub-análisis 3: ráfaga corta de requests concurrentes buscando
// señal explícita (429/503, Retry-After) o una ralentización agregada anómala
func (a *Analyzer) probeRateLimit(ctx context.Context, host string, portResults []models.PortObservation) (subResult, bool) {
	var sub subResult

	port := burstPort(portResults)
	url := fmt.Sprintf("http://%s/", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if probe.IsTLSPort(port) {
		url = fmt.Sprintf("https://%s/", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	}

	// Request de calentamiento para tener una referencia de latencia individual
	warmStart := time.Now()
	warmOK := a.singleRequest(ctx, url, "")
	warmElapsed := time.Since(warmStart)
	if !warmOK {
		// Sin superficie HTTP alcanzable no hay señal de rate limit que medir
		return sub, false
	}

	type burstOut struct {
		status     int
		retryAfter bool
	}
	results := make([]burstOut, burstSize)

	burstStart := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < burstSize; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			results[idx] = burstOut{
				status:     resp.StatusCode,
				retryAfter: resp.Header.Get("Retry-After") != "",
			}
		}(i)
	}
	wg.Wait()
	burstElapsed := time.Since(burstStart)

	for _, r := range results {
		if r.status == http.StatusTooManyRequests || r.status == http.StatusServiceUnavailable || r.retryAfter {
			sub.confidence = 65
			sub.indicators = append(sub.indicators,
				fmt.Sprintf("señal explícita de rate limit en ráfaga (HTTP %d)", r.status))
			sub.recommendations = append(sub.recommendations, "Insertar pausas entre lotes de requests")
			return sub, true
		}
	}

	// Una ráfaga que tarda mucho más que burstSize requests secuenciales no
	// concurrentes sugiere encolado/throttling aguas arriba
	if warmElapsed > 0 && burstElapsed > 3*warmElapsed && burstElapsed > 500*time.Millisecond {
		sub.confidence = 45
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("ráfaga anómalamente lenta (%.0fms vs %.0fms individual)",
				float64(burstElapsed.Milliseconds()), float64(warmElapsed.Milliseconds())))
		return sub, true
	}

	return sub, false
}

// analyzeResponsePattern sub-análisis 4: racha más larga de puertos filtrados
// consecutivos y proporción filtrados:abiertos, con bonus por puertos
// administrativos comunes filtrados. Contribuciones ponderadas con tope en 100.
func (a *Analyzer) analyzeResponsePattern(portResults []models.PortObservation) subResult {
	var sub subResult
	if len(portResults) == 0 {
		return sub
	}

	sorted := make([]models.PortObservation, len(portResults))
	copy(sorted, portResults)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Port < sorted[j].Port })

	longestRun, run := 0, 0
	for _, r := range sorted {
		if r.Status == models.PortFiltered || r.Status == models.PortTimeout {
			run++
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 0
		}
	}

	open, _, filtered := countStatuses(portResults)

	conf := 0
	if longestRun >= 3 {
		conf += longestRun * 5
		if conf > 40 {
			conf = 40
		}
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("racha de %d puertos consecutivos filtrados", longestRun))
	}
	if open > 0 && filtered > open {
		ratioPoints := int(float64(filtered) / float64(open) * 15)
		if ratioPoints > 60 {
			ratioPoints = 60
		}
		conf += ratioPoints
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("%d puertos filtrados frente a %d abiertos", filtered, open))
	}

	adminFiltered := 0
	for _, r := range sorted {
		switch r.Port {
		case 21, 22, 23, 135, 139, 445, 3389:
			if r.Status == models.PortFiltered || r.Status == models.PortTimeout {
				adminFiltered++
			}
		}
	}
	if adminFiltered > 0 {
		bonus := adminFiltered * 5
		if bonus > 20 {
			bonus = 20
		}
		conf += bonus
		sub.indicators = append(sub.indicators,
			fmt.Sprintf("%d puertos administrativos comunes filtrados", adminFiltered))
		sub.recommendations = append(sub.recommendations,
			"Los puertos de administración parecen protegidos deliberadamente")
	}

	sub.confidence = models.ClampConfidence(conf)
	return sub
}

// probeStealthVariants sub-análisis 5: compara dos variantes de request
// (cambio de protocolo y de user-agent) buscando filtrado selectivo
func (a *Analyzer) probeStealthVariants(ctx context.Context, host string, portResults []models.PortObservation) subResult {
	var sub subResult

	port := burstPort(portResults)
	plainURL := fmt.Sprintf("http://%s/", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

	defaultOK := a.singleRequest(ctx, plainURL, "")
	altUAOK := a.singleRequest(ctx, plainURL, "curl/8.4.0")

	tlsURL := fmt.Sprintf("https://%s/", net.JoinHostPort(host, "443"))
	tlsOK := a.singleRequest(ctx, tlsURL, "")

	if defaultOK != altUAOK {
		sub.confidence = 40
		sub.indicators = append(sub.indicators,
			"respuesta asimétrica según user-agent: filtrado selectivo de capa 7")
		sub.recommendations = append(sub.recommendations,
			"Probar con user-agents alternativos para contrastar resultados")
	}
	if defaultOK != tlsOK {
		if sub.confidence < 35 {
			sub.confidence = 35
		}
		sub.indicators = append(sub.indicators,
			"comportamiento distinto entre HTTP y HTTPS: posible inspección por protocolo")
		sub.recommendations = append(sub.recommendations,
			"Contrastar los resultados sondeando por el protocolo alternativo")
	}
	return sub
}

func (a *Analyzer) singleRequest(ctx context.Context, url, userAgent string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// inferType precedencia simple: rate limit ⇒ proxy; más filtrados que abiertos
// ⇒ stateful; timing consistente ⇒ packet-filter; si no, unknown
func inferType(analysis *models.FirewallAnalysis, portResults []models.PortObservation, timingPattern string) string {
	open, _, filtered := countStatuses(portResults)
	switch {
	case analysis.RateLimitDetected:
		return "proxy"
	case filtered > open:
		return "stateful"
	case timingPattern == "consistent":
		return "packet-filter"
	default:
		return "unknown"
	}
}

// samplePorts puertos para el análisis de timing: primero los abiertos
// conocidos, completando con puertos web comunes
func samplePorts(portResults []models.PortObservation) []int {
	var ports []int
	for _, r := range portResults {
		if r.Status == models.PortOpen {
			ports = append(ports, r.Port)
			if len(ports) == timingPorts {
				return ports
			}
		}
	}
	for _, p := range []int{80, 443, 8080} {
		if len(ports) == timingPorts {
			break
		}
		if !containsInt(ports, p) {
			ports = append(ports, p)
		}
	}
	return ports
}

// burstPort puerto web para las ráfagas HTTP: el primer web abierto, si hay
func burstPort(portResults []models.PortObservation) int {
	for _, r := range portResults {
		if r.Status == models.PortOpen && probe.IsWebPort(r.Port) {
			return r.Port
		}
	}
	return 80
}

func countStatuses(portResults []models.PortObservation) (open, closed, filtered int) {
	for _, r := range portResults {
		switch r.Status {
		case models.PortOpen:
			open++
		case models.PortClosed:
			closed++
		case models.PortFiltered, models.PortTimeout:
			filtered++
		}
	}
	return
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Describe resumen corto legible del veredicto (para logs y CLI)
func Describe(a *models.FirewallAnalysis) string {
	if a == nil {
		return "sin análisis"
	}
	if !a.Detected {
		return fmt.Sprintf("sin firewall aparente (confianza %d)", a.Confidence)
	}
	return fmt.Sprintf("firewall %s detectado (confianza %d): %s",
		a.Type, a.Confidence, strings.Join(a.Indicators, "; "))
}
