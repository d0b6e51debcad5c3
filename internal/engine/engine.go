// Package engine expone la superficie de operaciones del motor de
// reconocimiento hacia la capa de orquestación externa (CLI, UI, reporting).
// El engine posee el flag de cancelación y el registro in-flight de scripts;
// todas las colecciones de resultados pertenecen a la invocación que las creó.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/internal/firewall"
	"github.com/juanotejeda/sondare/internal/osfp"
	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/internal/scanner"
	"github.com/juanotejeda/sondare/internal/scripts"
	"github.com/juanotejeda/sondare/internal/service"
	"github.com/juanotejeda/sondare/internal/target"
	"github.com/juanotejeda/sondare/pkg/models"
)

// Options configuración del engine
type Options struct {
	Timeout       time.Duration
	Concurrency   int
	ExtraSigs     []models.ServiceSignature
	ScriptTimeout time.Duration
}

// Engine fachada del motor de reconocimiento
type Engine struct {
	log *logrus.Logger

	cancelled    atomic.Bool
	prober       *probe.Strategy
	orchestrator *scanner.Orchestrator
	matcher      *service.Matcher
	osEngine     *osfp.Engine
	fwAnalyzer   *firewall.Analyzer
	scriptEngine *scripts.Engine

	timeout     time.Duration
	concurrency int
}

// New construye el engine con sus tablas inmutables cargadas una sola vez
func New(log *logrus.Logger, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = scanner.DefaultConcurrency
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 5 * time.Second
	}

	e := &Engine{
		log:         log,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
	}
	e.prober = probe.NewStrategy(log)
	e.orchestrator = scanner.NewOrchestrator(log, e.prober, &e.cancelled)

	sigs := append([]models.ServiceSignature{}, service.DefaultSignatures...)
	sigs = append(sigs, opts.ExtraSigs...)
	e.matcher = service.NewMatcher(log, sigs)

	e.osEngine = osfp.NewEngine(log)
	e.fwAnalyzer = firewall.NewAnalyzer(log, e.prober, opts.Timeout)
	e.scriptEngine = scripts.NewEngine(log, scripts.DefaultCatalog(opts.ScriptTimeout))
	return e
}

// ParseTarget clasifica el input sin hacer I/O
func (e *Engine) ParseTarget(input string) (*models.Target, error) {
	return target.Parse(input)
}

// ScanOptions parámetros de un escaneo desde la capa externa
type ScanOptions struct {
	Target      string
	StartPort   int
	EndPort     int
	ScanType    models.ScanType
	Timeout     time.Duration
	Concurrency int
	OnProgress  func(percent float64, lastPort int)
	OnResult    func(models.PortObservation)
	OnLog       func(msg string)
}

// ScanPorts lanza un escaneo de puertos en streaming. El canal devuelto es
// finito, perezoso y no reiniciable; los callbacks dan la vista push.
// Arranca limpiando el flag de cancelación de corridas anteriores.
func (e *Engine) ScanPorts(ctx context.Context, opts ScanOptions) (<-chan models.PortObservation, error) {
	tgt, err := target.Parse(opts.Target)
	if err != nil {
		return nil, err
	}
	e.cancelled.Store(false)

	if opts.Timeout <= 0 {
		opts.Timeout = e.timeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = e.concurrency
	}

	return e.orchestrator.ScanPorts(ctx, scanner.Options{
		Target:      tgt.Value,
		StartPort:   opts.StartPort,
		EndPort:     opts.EndPort,
		ScanType:    opts.ScanType,
		Timeout:     opts.Timeout,
		Concurrency: opts.Concurrency,
		OnProgress:  opts.OnProgress,
		OnResult:    opts.OnResult,
		OnLog:       opts.OnLog,
	})
}

// CollectScan variante bloqueante de ScanPorts: drena el stream y devuelve el
// conjunto completo de observaciones
func (e *Engine) CollectScan(ctx context.Context, opts ScanOptions) ([]models.PortObservation, error) {
	ch, err := e.ScanPorts(ctx, opts)
	if err != nil {
		return nil, err
	}
	var out []models.PortObservation
	for obs := range ch {
		out = append(out, obs)
	}
	return out, nil
}

// StopScan señala la cancelación cooperativa: los lotes en vuelo terminan y
// entregan sus resultados, pero no se programan lotes nuevos
func (e *Engine) StopScan() {
	e.log.Warn("cancelación de escaneo solicitada")
	e.cancelled.Store(true)
}

// DiscoveryHooks callbacks del descubrimiento de hosts
type DiscoveryHooks struct {
	OnProgress func(percent float64, lastHost string)
	OnLog      func(msg string)
}

// DiscoverHosts expande y evalúa los hosts candidatos del target
func (e *Engine) DiscoverHosts(ctx context.Context, input string, methods []string, hooks DiscoveryHooks) ([]models.DiscoveryObservation, error) {
	tgt, err := target.Parse(input)
	if err != nil {
		return nil, err
	}
	e.cancelled.Store(false)

	return e.orchestrator.DiscoverHosts(ctx, tgt, scanner.DiscoveryOptions{
		Methods:     methods,
		Timeout:     e.timeout,
		Concurrency: e.concurrency,
		OnProgress:  hooks.OnProgress,
		OnLog:       hooks.OnLog,
	})
}

// DetectServices identifica servicios sobre las observaciones abiertas
func (e *Engine) DetectServices(openPorts []models.PortObservation) []models.DetectedService {
	return e.matcher.DetectServices(openPorts)
}

// FingerprintOS infiere candidatos de SO para el target
func (e *Engine) FingerprintOS(input string, openPorts []models.PortObservation, discovery []models.DiscoveryObservation) ([]models.OSFingerprintCandidate, error) {
	tgt, err := target.Parse(input)
	if err != nil {
		return nil, err
	}
	return e.osEngine.Fingerprint(tgt, openPorts, discovery), nil
}

// AnalyzeFirewall corre el análisis de firewall/timing contra el target
func (e *Engine) AnalyzeFirewall(ctx context.Context, input string, portResults []models.PortObservation, onProgress func(percent float64, stage string)) (*models.FirewallAnalysis, error) {
	tgt, err := target.Parse(input)
	if err != nil {
		return nil, err
	}
	return e.fwAnalyzer.Analyze(ctx, tgt, portResults, onProgress)
}

// ScriptHooks callbacks de la ejecución de scripts
type ScriptHooks struct {
	OnProgress func(completed, total int)
	OnResult   func(models.ScriptResult)
}

// RunScripts expande y ejecuta los scripts pedidos contra los puertos abiertos
func (e *Engine) RunScripts(ctx context.Context, ids []string, input string, openPorts []models.PortObservation, hooks ScriptHooks) ([]models.ScriptResult, error) {
	tgt, err := target.Parse(input)
	if err != nil {
		return nil, err
	}
	return e.scriptEngine.Run(ctx, ids, tgt, openPorts, scripts.RunOptions{
		OnProgress: hooks.OnProgress,
		OnResult:   hooks.OnResult,
	})
}

// AvailableScripts catálogo completo
func (e *Engine) AvailableScripts() []scripts.SecurityScript {
	return e.scriptEngine.Available()
}

// ScriptsForPort scripts aplicables a un puerto/servicio
func (e *Engine) ScriptsForPort(port int, svc string) []scripts.SecurityScript {
	return e.scriptEngine.ForPort(port, svc)
}

// NewRunID identificador de corrida para la capa externa de persistencia
func NewRunID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
