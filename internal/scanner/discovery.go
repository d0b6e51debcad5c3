package scanner

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/juanotejeda/sondare/internal/target"
	"github.com/juanotejeda/sondare/pkg/models"
)

// Métodos de descubrimiento soportados por la superficie del sandbox
const (
	MethodTCPConnect = "tcp-connect"
	MethodHTTP       = "http"
	MethodDNS        = "dns"
)

// pingPorts puertos usados por el método tcp-connect para decidir si un host vive
var pingPorts = []int{80, 443, 22, 3389}

// DiscoveryOptions parámetros del descubrimiento de hosts
type DiscoveryOptions struct {
	Methods     []string
	Timeout     time.Duration
	Concurrency int
	OnProgress  func(percent float64, lastHost string)
	OnLog       func(msg string)
}

// DiscoverHosts expande el target a direcciones concretas (acotado a
// target.MaxExpandedHosts) y evalúa cada una con los métodos pedidos en
// secuencia hasta que uno acierte o se agoten. Devuelve exactamente una
// observación por host candidato.
func (o *Orchestrator) DiscoverHosts(ctx context.Context, tgt *models.Target, opts DiscoveryOptions) ([]models.DiscoveryObservation, error) {
	hosts, err := target.ExpandHosts(tgt)
	if err != nil {
		return nil, err
	}
	if len(opts.Methods) == 0 {
		opts.Methods = []string{MethodTCPConnect, MethodHTTP, MethodDNS}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 1500 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	o.logDiscovery(opts, "descubriendo %d hosts candidatos (%v)", len(hosts), opts.Methods)

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	results := make([]models.DiscoveryObservation, len(hosts))

	var wg sync.WaitGroup
	var cbMu sync.Mutex
	completed := 0

	for i, host := range hosts {
		if o.cancelled != nil && o.cancelled.Load() {
			o.logDiscovery(opts, "descubrimiento cancelado tras %d hosts despachados", i)
			results = results[:i]
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results = results[:i]
			break
		}

		wg.Add(1)
		go func(idx int, h string) {
			defer wg.Done()
			defer sem.Release(1)

			results[idx] = o.evaluateHost(ctx, h, opts)

			cbMu.Lock()
			completed++
			if opts.OnProgress != nil {
				opts.OnProgress(float64(completed)/float64(len(hosts))*100, h)
			}
			cbMu.Unlock()
		}(i, host)
	}
	wg.Wait()

	alive := 0
	for _, r := range results {
		if r.IsAlive {
			alive++
		}
	}
	o.logDiscovery(opts, "descubrimiento completado: %d/%d hosts vivos", alive, len(results))
	return results, nil
}

// evaluateHost prueba los métodos en secuencia; el primero que responde marca
// el host como vivo con ese método
func (o *Orchestrator) evaluateHost(ctx context.Context, host string, opts DiscoveryOptions) models.DiscoveryObservation {
	obs := models.DiscoveryObservation{
		IP:         host,
		ObservedAt: time.Now().UTC(),
	}

	// El campo IP siempre lleva una dirección: un target con nombre se
	// resuelve una sola vez aquí, sin importar qué método lo marque vivo
	if net.ParseIP(host) == nil {
		obs.Hostname = host
		resCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		if addrs, err := net.DefaultResolver.LookupHost(resCtx, host); err == nil && len(addrs) > 0 {
			obs.IP = addrs[0]
		}
		cancel()
	}

	for _, method := range opts.Methods {
		start := time.Now()
		var ok bool
		switch method {
		case MethodTCPConnect:
			ok = o.tryTCPConnect(ctx, host, opts.Timeout)
		case MethodHTTP:
			ok = o.tryHTTP(ctx, host, opts.Timeout)
		case MethodDNS:
			ok = o.tryDNS(ctx, host, opts.Timeout, &obs)
		default:
			o.log.Warnf("método de descubrimiento %q desconocido, ignorado", method)
			continue
		}
		if ok {
			obs.IsAlive = true
			obs.Method = method
			obs.LatencyMs = time.Since(start).Milliseconds()
			break
		}
	}

	if obs.IsAlive && obs.Hostname == "" {
		if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
			obs.Hostname = names[0]
		}
	}
	return obs
}

// tryTCPConnect vivo si alguno de los puertos de ping acepta conexión
func (o *Orchestrator) tryTCPConnect(ctx context.Context, host string, timeout time.Duration) bool {
	for _, port := range pingPorts {
		res := o.prober.Probe(ctx, models.ProbeTarget{Host: host, Port: port, Protocol: "tcp"},
			timeout, models.ScanConnect)
		if res.Status == models.PortOpen || res.Status == models.PortClosed {
			// Un rechazo explícito también demuestra que el host existe
			return true
		}
	}
	return false
}

// tryHTTP vivo si el puerto 80 responde algo interpretable
func (o *Orchestrator) tryHTTP(ctx context.Context, host string, timeout time.Duration) bool {
	res := o.prober.Probe(ctx, models.ProbeTarget{Host: host, Port: 80, Protocol: "tcp"},
		timeout, models.ScanConnect)
	return res.Status == models.PortOpen
}

// tryDNS vivo si el nombre resuelve (o la IP tiene reverso)
func (o *Orchestrator) tryDNS(ctx context.Context, host string, timeout time.Duration, obs *models.DiscoveryObservation) bool {
	if net.ParseIP(host) == nil {
		// La resolución ya ocurrió en evaluateHost; vivo si obtuvo dirección
		return obs.IP != host
	}

	resCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(resCtx, host)
	if err == nil && len(names) > 0 {
		obs.Hostname = names[0]
		return true
	}
	return false
}

func (o *Orchestrator) logDiscovery(opts DiscoveryOptions, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.log.Info(msg)
	if opts.OnLog != nil {
		opts.OnLog(msg)
	}
}
