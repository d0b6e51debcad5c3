// Package probe implementa las tres técnicas de sondeo disponibles dentro del
// sandbox (request HTTP, conexión TCP, carga cronometrada) y la selección de
// técnica por clase de puerto. Un probe nunca propaga un error hacia arriba:
// todo fallo se convierte en un veredicto open/closed/filtered/timeout.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/pkg/models"
)

// Result veredicto crudo de un probe
type Result struct {
	Status  models.PortStatus
	Banner  string
	Latency time.Duration
}

// webPorts puertos que llevan un protocolo request/response tipo web
var webPorts = map[int]bool{
	80: true, 443: true, 8000: true, 8008: true, 8080: true, 8081: true,
	8443: true, 8888: true, 3000: true, 5000: true, 9090: true,
}

// tlsPorts puertos web donde el primer intento va por HTTPS
var tlsPorts = map[int]bool{443: true, 8443: true}

// connectPorts puertos con protocolos persistentes bidireccionales
// (shells, bases de datos, correo, escritorio remoto, ficheros)
var connectPorts = map[int]bool{
	21: true, 22: true, 23: true, 25: true, 110: true, 135: true, 139: true,
	143: true, 445: true, 587: true, 993: true, 995: true, 1433: true,
	1521: true, 2049: true, 3306: true, 3389: true, 5432: true, 5900: true,
	6379: true, 9200: true, 11211: true, 27017: true,
}

// nudges payloads mínimos para provocar un banner en protocolos que no saludan solos
var nudges = map[int]string{
	80:   "HEAD / HTTP/1.0\r\n\r\n",
	8080: "HEAD / HTTP/1.0\r\n\r\n",
	25:   "HELO sondare\r\n",
	587:  "HELO sondare\r\n",
}

// Strategy selector y ejecutor de técnicas de probe
type Strategy struct {
	log    *logrus.Logger
	dialer *net.Dialer
	client *http.Client
}

// NewStrategy crea el strategy con su dialer y cliente HTTP propios.
// El cliente no sigue redirects: solo nos interesa que algo respondió.
func NewStrategy(log *logrus.Logger) *Strategy {
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext:       dialer.DialContext,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives: true,
	}
	return &Strategy{
		log:    log,
		dialer: dialer,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe ejecuta la técnica adecuada para el puerto y devuelve un veredicto.
// scanType distinto de "connect" degrada a connect: el sandbox no puede
// construir paquetes half-open ni crudos, y la degradación se registra siempre.
func (s *Strategy) Probe(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration, scanType models.ScanType) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("probe %s:%d pánico recuperado: %v", tgt.Host, tgt.Port, r)
			res = Result{Status: models.PortTimeout, Latency: timeout}
		}
	}()

	if scanType != models.ScanConnect && scanType != "" {
		s.log.Warnf("scan type %q no soportado en sandbox, degradando a connect para %s:%d",
			scanType, tgt.Host, tgt.Port)
	}

	switch {
	case webPorts[tgt.Port]:
		return s.probeRequest(ctx, tgt, timeout)
	case connectPorts[tgt.Port]:
		return s.probeConnect(ctx, tgt, timeout)
	default:
		return s.probeTimedLoad(ctx, tgt, timeout)
	}
}

// probeRequest técnica request/response para puertos web: un intento ligero
// (HEAD) y uno completo (GET) si el primero no es concluyente. Cualquier
// respuesta interpretable cuenta como open; un error opaco tras conectar es
// indistinguible de "conectado pero contenido retenido" y también cuenta como
// open (heurística documentada del sandbox, no resolverla).
func (s *Strategy) probeRequest(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration) Result {
	start := time.Now()

	banner, err := s.httpAttempt(ctx, http.MethodHead, tgt, timeout)
	if err != nil && !isTimeout(err) && !isRefused(err) {
		// Primer intento inconcluso: reintentar con GET antes de clasificar
		banner, err = s.httpAttempt(ctx, http.MethodGet, tgt, timeout)
	}
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return Result{Status: models.PortOpen, Banner: banner, Latency: elapsed}
	case isRefused(err):
		return Result{Status: models.PortClosed, Latency: elapsed}
	case isTimeout(err):
		return Result{Status: models.PortFiltered, Latency: elapsed}
	case isOpaqueAfterConnect(err):
		return Result{Status: models.PortOpen, Latency: elapsed}
	default:
		return Result{Status: models.PortFiltered, Latency: elapsed}
	}
}

// httpAttempt un request contra el puerto; devuelve banner (Server + status line)
func (s *Strategy) httpAttempt(ctx context.Context, method string, tgt models.ProbeTarget, timeout time.Duration) (string, error) {
	scheme := "http"
	if tlsPorts[tgt.Port] {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(tgt.Host, fmt.Sprintf("%d", tgt.Port)))

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	banner := fmt.Sprintf("%s %s", resp.Proto, resp.Status)
	if server := resp.Header.Get("Server"); server != "" {
		banner += " Server: " + server
	}
	if powered := resp.Header.Get("X-Powered-By"); powered != "" {
		banner += " X-Powered-By: " + powered
	}
	return banner, nil
}

// probeConnect técnica orientada a conexión: establecer la conexión ya es open
// (aunque el servicio corte enseguida por mismatch de protocolo), el rechazo
// explícito es closed y el silencio hasta el timeout es filtered.
func (s *Strategy) probeConnect(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration) Result {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(tgt.Host, fmt.Sprintf("%d", tgt.Port))
	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case isRefused(err):
			return Result{Status: models.PortClosed, Latency: elapsed}
		case isTimeout(err):
			return Result{Status: models.PortFiltered, Latency: elapsed}
		default:
			return Result{Status: models.PortFiltered, Latency: elapsed}
		}
	}
	defer conn.Close()

	banner := s.grabBanner(conn, tgt.Port, timeout)
	return Result{Status: models.PortOpen, Banner: banner, Latency: elapsed}
}

// grabBanner intenta leer un banner tras conectar; algunos protocolos necesitan
// un empujón mínimo para hablar
func (s *Strategy) grabBanner(conn net.Conn, port int, timeout time.Duration) string {
	readBudget := timeout / 2
	if readBudget > 800*time.Millisecond {
		readBudget = 800 * time.Millisecond
	}
	_ = conn.SetDeadline(time.Now().Add(readBudget))

	if nudge, ok := nudges[port]; ok {
		_, _ = conn.Write([]byte(nudge))
	}

	buf := make([]byte, 2048)
	n, _ := conn.Read(buf)
	if n == 0 {
		return ""
	}
	return strings.TrimSpace(string(buf[:n]))
}

// probeTimedLoad técnica de carga cronometrada para el resto de puertos: la
// clasificación se hace solo por timing del error, no por su causa. Un error
// rápido (bajo el 50% del timeout) implica un servicio alcanzable que no habla
// nuestro protocolo y se trata como open aunque fuese un rechazo; esa
// conflación es una propiedad de la superficie de sondeo, no un bug.
func (s *Strategy) probeTimedLoad(ctx context.Context, tgt models.ProbeTarget, timeout time.Duration) Result {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(tgt.Host, fmt.Sprintf("%d", tgt.Port))
	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	elapsed := time.Since(start)

	if err == nil {
		defer conn.Close()
		return Result{Status: models.PortOpen, Banner: s.grabBanner(conn, tgt.Port, timeout), Latency: elapsed}
	}

	switch {
	case isTimeout(err) || elapsed >= timeout:
		return Result{Status: models.PortTimeout, Latency: elapsed}
	case elapsed < timeout/2:
		return Result{Status: models.PortOpen, Latency: elapsed}
	default:
		return Result{Status: models.PortFiltered, Latency: elapsed}
	}
}

// isRefused detecta el rechazo explícito de conexión
func isRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.ECONNREFUSED)
	}
	return strings.Contains(err.Error(), "connection refused")
}

// isTimeout detecta expiración del presupuesto de tiempo
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isOpaqueAfterConnect errores que implican que algo contestó aunque no
// podamos leerlo: mismatch TLS/HTTP, cierre inmediato del peer
func isOpaqueAfterConnect(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "http: server") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset")
}

// IsWebPort expone la clase de puerto web para consumidores (OS engine, scripts)
func IsWebPort(port int) bool { return webPorts[port] }

// IsTLSPort indica si el puerto web habla TLS por convención
func IsTLSPort(port int) bool { return tlsPorts[port] }
