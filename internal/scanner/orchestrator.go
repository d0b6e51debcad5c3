// Package scanner orquesta los probes por lotes: agrupa puertos u hosts,
// despacha cada lote con concurrencia acotada, espera el lote completo antes
// de empezar el siguiente y entrega las observaciones en streaming.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/pkg/models"
)

const (
	// DefaultConcurrency tamaño de lote por defecto
	DefaultConcurrency = 50
	// MaxConcurrency tope duro del tamaño de lote
	MaxConcurrency = 100
	// batchDelay pausa entre lotes para no saturar la superficie de sondeo
	batchDelay = 75 * time.Millisecond
)

// Prober ejecuta un probe individual. Lo implementa probe.Strategy; los tests
// inyectan fakes.
type Prober interface {
	Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) probe.Result
}

// Options parámetros de un escaneo de puertos
type Options struct {
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

// Orchestrator corre escaneos de puertos y descubrimiento de hosts.
// El flag de cancelación es compartido con el engine: es el único estado
// mutable compartido junto con el registro in-flight de scripts.
type Orchestrator struct {
	log       *logrus.Logger
	prober    Prober
	cancelled *atomic.Bool
	limiter   *rate.Limiter
}

// NewOrchestrator crea el orquestador con el prober inyectado
func NewOrchestrator(log *logrus.Logger, prober Prober, cancelled *atomic.Bool) *Orchestrator {
	return &Orchestrator{
		log:       log,
		prober:    prober,
		cancelled: cancelled,
		limiter:   rate.NewLimiter(rate.Every(batchDelay), 1),
	}
}

// ScanPorts escanea el rango [StartPort, EndPort] y devuelve un canal finito
// de observaciones (consumo pull); los callbacks de Options dan el estilo push.
// Dentro de un lote el orden de llegada es el que entregue la red; el conjunto
// completo siempre puede reordenarse por puerto al terminar.
func (o *Orchestrator) ScanPorts(ctx context.Context, opts Options) (<-chan models.PortObservation, error) {
	if opts.StartPort < 1 || opts.EndPort > 65535 || opts.StartPort > opts.EndPort {
		return nil, fmt.Errorf("rango de puertos inválido %d-%d", opts.StartPort, opts.EndPort)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.ScanType == "" {
		opts.ScanType = models.ScanConnect
	}

	total := opts.EndPort - opts.StartPort + 1
	out := make(chan models.PortObservation, opts.Concurrency)

	go func() {
		defer close(out)

		o.logf(opts, "escaneando %s puertos %d-%d (%d puertos, lotes de %d)",
			opts.Target, opts.StartPort, opts.EndPort, total, opts.Concurrency)

		var completed int
		var cbMu sync.Mutex // los callbacks del consumidor no son reentrantes

		for batchStart := opts.StartPort; batchStart <= opts.EndPort; batchStart += opts.Concurrency {
			// La cancelación se consulta entre lotes: el lote en vuelo termina,
			// pero no se programa ninguno nuevo.
			if o.cancelled != nil && o.cancelled.Load() {
				o.logf(opts, "escaneo cancelado en el puerto %d, no se despachan más lotes", batchStart)
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := o.limiter.Wait(ctx); err != nil {
				return
			}

			batchEnd := batchStart + opts.Concurrency - 1
			if batchEnd > opts.EndPort {
				batchEnd = opts.EndPort
			}

			var wg sync.WaitGroup
			for port := batchStart; port <= batchEnd; port++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()

					tgt := models.ProbeTarget{Host: opts.Target, Port: p, Protocol: "tcp"}
					res := o.prober.Probe(ctx, tgt, opts.Timeout, opts.ScanType)

					obs := models.PortObservation{
						Port:       p,
						Protocol:   "tcp",
						Status:     res.Status,
						Banner:     res.Banner,
						LatencyMs:  res.Latency.Milliseconds(),
						ObservedAt: time.Now().UTC(),
					}

					// El contador avanza dentro del mutex: el progreso reportado
					// es monótono aunque los goroutines del lote compitan
					cbMu.Lock()
					completed++
					done := completed
					if opts.OnResult != nil {
						opts.OnResult(obs)
					}
					if opts.OnProgress != nil {
						opts.OnProgress(float64(done)/float64(total)*100, p)
					}
					cbMu.Unlock()

					// Un consumidor que abandona el canal no retiene el lote:
					// la cancelación del contexto libera los envíos pendientes
					select {
					case out <- obs:
					case <-ctx.Done():
					}
				}(port)
			}
			wg.Wait()
		}

		o.logf(opts, "escaneo de %s completado: %d puertos", opts.Target, completed)
	}()

	return out, nil
}

func (o *Orchestrator) logf(opts Options, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.log.Info(msg)
	if opts.OnLog != nil {
		opts.OnLog(msg)
	}
}
