package scripts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/pkg/models"
)

// DefaultBatchSize work items ejecutados concurrentemente por lote
const DefaultBatchSize = 3

// workItem una ejecución concreta (script, host, puerto) tras la expansión
type workItem struct {
	script  SecurityScript
	host    string
	port    int
	service string
}

func (w workItem) key() string {
	return fmt.Sprintf("%s|%s|%d", w.script.ID, w.host, w.port)
}

// Engine ejecuta scripts del catálogo con lotes acotados y deduplicación.
// El registro in-flight es, junto al flag de cancelación del orquestador,
// el único estado mutable compartido del sistema.
type Engine struct {
	log       *logrus.Logger
	catalog   []SecurityScript
	batchSize int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine crea el engine con el catálogo inyectado (inmutable)
func NewEngine(log *logrus.Logger, catalog []SecurityScript) *Engine {
	return &Engine{
		log:       log,
		catalog:   catalog,
		batchSize: DefaultBatchSize,
		inflight:  make(map[string]struct{}),
	}
}

// Available catálogo completo en orden de declaración
func (e *Engine) Available() []SecurityScript {
	out := make([]SecurityScript, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// ForPort scripts aplicables a un puerto/servicio concreto
func (e *Engine) ForPort(port int, service string) []SecurityScript {
	var out []SecurityScript
	for _, s := range e.catalog {
		if s.HostLevel {
			continue
		}
		if s.PortApplicable == nil || s.PortApplicable(port, service) {
			out = append(out, s)
		}
	}
	return out
}

// RunOptions callbacks de una ejecución de scripts
type RunOptions struct {
	OnProgress func(completed, total int)
	OnResult   func(models.ScriptResult)
}

// Run expande los IDs pedidos contra los puertos abiertos actuales y ejecuta
// los work items en lotes de batchSize. Cada item produce exactamente un
// ScriptResult: los fallos se convierten en resultados, nunca se propagan.
func (e *Engine) Run(ctx context.Context, ids []string, tgt *models.Target, openPorts []models.PortObservation, opts RunOptions) ([]models.ScriptResult, error) {
	if tgt == nil {
		return nil, fmt.Errorf("target nulo")
	}

	items := e.expand(ids, tgt.Value, openPorts)
	e.log.Infof("ejecutando %d scripts → %d work items contra %s", len(ids), len(items), tgt.Value)

	results := make([]models.ScriptResult, 0, len(items))
	var cbMu sync.Mutex
	completed := 0

	emit := func(r models.ScriptResult) {
		cbMu.Lock()
		defer cbMu.Unlock()
		results = append(results, r)
		completed++
		if opts.OnResult != nil {
			opts.OnResult(r)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, len(items))
		}
	}

	for start := 0; start < len(items); start += e.batchSize {
		end := start + e.batchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(w workItem) {
				defer wg.Done()
				emit(e.runOne(ctx, w))
			}(item)
		}
		wg.Wait()
	}

	return results, nil
}

// expand convierte los IDs en work items: los scripts de host producen un
// item; los de puerto, uno por puerto abierto que satisfaga su predicado;
// sin predicado corren contra todos los puertos abiertos
func (e *Engine) expand(ids []string, host string, openPorts []models.PortObservation) []workItem {
	var items []workItem
	for _, id := range ids {
		script, ok := e.find(id)
		if !ok {
			e.log.Warnf("script desconocido %q, ignorado", id)
			continue
		}
		if script.HostLevel {
			items = append(items, workItem{script: script, host: host})
			continue
		}
		for _, obs := range openPorts {
			if obs.Status != models.PortOpen {
				continue
			}
			// El banner hace de pista de servicio para los predicados
			if script.PortApplicable == nil || script.PortApplicable(obs.Port, obs.Banner) {
				items = append(items, workItem{script: script, host: host, port: obs.Port, service: obs.Banner})
			}
		}
	}
	return items
}

func (e *Engine) find(id string) (SecurityScript, bool) {
	for _, s := range e.catalog {
		if s.ID == id {
			return s, true
		}
	}
	return SecurityScript{}, false
}

// runOne ejecuta un work item con check-and-set atómico sobre el registro
// in-flight: un duplicado (scriptID, host, puerto) falla inmediatamente
func (e *Engine) runOne(ctx context.Context, w workItem) (result models.ScriptResult) {
	result = models.ScriptResult{
		ScriptID: w.script.ID,
		Host:     w.host,
		Port:     w.port,
		Severity: models.SeverityInfo,
		State:    models.ScriptSuccess,
	}

	if !e.acquire(w.key()) {
		result.State = models.ScriptError
		result.Output = fmt.Sprintf("already running: ejecución duplicada de %s contra %s:%d",
			w.script.ID, w.host, w.port)
		e.log.Warnf("%s: %v", result.Output, models.ErrScriptAlreadyRunning)
		return result
	}
	// La entrada se libera cuando la acción termina, con éxito o sin él
	defer e.release(w.key())

	start := time.Now()
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			e.log.Errorf("script %s pánico recuperado: %v", w.script.ID, r)
			result.State = models.ScriptError
			result.Severity = models.SeverityInfo
			result.Output = fmt.Sprintf("pánico en script: %v", r)
		}
	}()

	output, severity, findings, err := w.script.Action(ctx, w.host, w.port, w.service)
	result.Output = output
	result.Severity = severity
	result.Findings = findings

	if err != nil {
		result.Severity = models.SeverityInfo
		switch {
		case ctx.Err() != nil:
			result.State = models.ScriptTimeout
			result.Output = "presupuesto de tiempo agotado"
		default:
			result.State = models.ScriptError
			result.Output = err.Error()
		}
	}
	return result
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.inflight[key]; dup {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}
