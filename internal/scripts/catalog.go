// Package scripts ejecuta chequeos con nombre (estilo NSE) contra los
// resultados de un escaneo, con concurrencia acotada y deduplicación de
// ejecuciones en vuelo.
package scripts

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/pkg/models"
)

// Action chequeo concreto contra host (y opcionalmente puerto/servicio).
// Devolver error NUNCA llega al caller: el engine lo convierte en ScriptResult.
type Action func(ctx context.Context, host string, port int, service string) (output string, severity models.Severity, findings []string, err error)

// SecurityScript entrada del catálogo estático de chequeos
type SecurityScript struct {
	ID          string
	Name        string
	Category    string
	Description string
	// PortApplicable nil en scripts de host; un script de puerto sin predicado
	// corre contra todos los puertos abiertos
	PortApplicable func(port int, service string) bool
	// HostLevel true ⇒ un único work item por host
	HostLevel bool
	Action    Action
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// DefaultCatalog catálogo por defecto. Inmutable: el engine lo recibe por
// constructor y no lo muta nunca.
func DefaultCatalog(timeout time.Duration) []SecurityScript {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	isWeb := func(port int, service string) bool {
		return probe.IsWebPort(port) || strings.Contains(strings.ToLower(service), "http")
	}

	return []SecurityScript{
		{
			ID:          "banner-grab",
			Name:        "Captura de banner",
			Category:    "discovery",
			Description: "Conecta y captura el saludo inicial del servicio",
			// Sin predicado: corre contra cada puerto abierto
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				defer conn.Close()
				_ = conn.SetReadDeadline(time.Now().Add(timeout / 2))
				buf := make([]byte, 1024)
				n, _ := conn.Read(buf)
				if n == 0 {
					return "sin banner", models.SeverityInfo, nil, nil
				}
				banner := strings.TrimSpace(string(buf[:n]))
				return banner, models.SeverityInfo, []string{banner}, nil
			},
		},
		{
			ID:             "http-title",
			Name:           "Título de página HTTP",
			Category:       "discovery",
			Description:    "Recupera el <title> de la raíz del servidor web",
			PortApplicable: isWeb,
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				body, _, err := httpGet(ctx, client, host, port)
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				m := titleRe.FindStringSubmatch(body)
				if m == nil {
					return "sin título", models.SeverityInfo, nil, nil
				}
				title := strings.TrimSpace(m[1])
				return title, models.SeverityInfo, []string{"title: " + title}, nil
			},
		},
		{
			ID:             "http-headers",
			Name:           "Cabeceras de seguridad HTTP",
			Category:       "vuln",
			Description:    "Comprueba cabeceras de seguridad ausentes",
			PortApplicable: isWeb,
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				_, headers, err := httpGet(ctx, client, host, port)
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				wanted := []string{
					"Strict-Transport-Security",
					"Content-Security-Policy",
					"X-Frame-Options",
					"X-Content-Type-Options",
				}
				var missing []string
				for _, h := range wanted {
					if headers.Get(h) == "" {
						missing = append(missing, "falta "+h)
					}
				}
				if len(missing) == 0 {
					return "cabeceras de seguridad presentes", models.SeverityInfo, nil, nil
				}
				sev := models.SeverityLow
				if len(missing) > 2 {
					sev = models.SeverityMedium
				}
				return fmt.Sprintf("%d cabeceras de seguridad ausentes", len(missing)), sev, missing, nil
			},
		},
		{
			ID:             "http-methods",
			Name:           "Métodos HTTP habilitados",
			Category:       "vuln",
			Description:    "Enumera métodos vía OPTIONS y marca los peligrosos",
			PortApplicable: isWeb,
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				url := webURL(host, port) + "/"
				req, err := http.NewRequestWithContext(ctx, http.MethodOptions, url, nil)
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				resp, err := client.Do(req)
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				resp.Body.Close()
				allow := resp.Header.Get("Allow")
				if allow == "" {
					return "el servidor no anuncia métodos", models.SeverityInfo, nil, nil
				}
				var findings []string
				sev := models.SeverityInfo
				for _, dangerous := range []string{"PUT", "DELETE", "TRACE", "CONNECT"} {
					if strings.Contains(allow, dangerous) {
						findings = append(findings, "método peligroso habilitado: "+dangerous)
						sev = models.SeverityMedium
					}
				}
				return "Allow: " + allow, sev, findings, nil
			},
		},
		{
			ID:       "ssh-auth-methods",
			Name:     "Métodos de autenticación SSH",
			Category: "auth",
			Description: "Captura la versión del servidor SSH y los métodos de " +
				"autenticación que anuncia",
			PortApplicable: func(port int, service string) bool {
				return port == 22 || port == 2222 || strings.Contains(strings.ToLower(service), "ssh")
			},
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

				conn, err := dialer.DialContext(ctx, "tcp", addr)
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				_ = conn.SetReadDeadline(time.Now().Add(timeout / 2))
				buf := make([]byte, 256)
				n, _ := conn.Read(buf)
				conn.Close()
				version := strings.TrimSpace(string(buf[:n]))

				// Handshake con auth "none": el error enumera los métodos que
				// el servidor acepta
				cfg := &ssh.ClientConfig{
					User:            "sondare",
					HostKeyCallback: ssh.InsecureIgnoreHostKey(),
					Timeout:         timeout,
				}
				var findings []string
				if version != "" {
					findings = append(findings, "version: "+version)
				}
				sev := models.SeverityInfo
				if client, err := ssh.Dial("tcp", addr, cfg); err != nil {
					msg := err.Error()
					if strings.Contains(msg, "password") {
						findings = append(findings, "autenticación por contraseña habilitada")
						sev = models.SeverityMedium
					}
					if strings.Contains(msg, "publickey") {
						findings = append(findings, "autenticación por clave pública habilitada")
					}
				} else {
					client.Close()
					findings = append(findings, "el servidor aceptó autenticación none")
					sev = models.SeverityCritical
				}
				return version, sev, findings, nil
			},
		},
		{
			ID:          "tls-cert",
			Name:        "Certificado TLS",
			Category:    "crypto",
			Description: "Inspecciona caducidad y emisor del certificado",
			PortApplicable: func(port int, service string) bool {
				return probe.IsTLSPort(port) || port == 465 || port == 993 || port == 995
			},
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				conn, err := tls.DialWithDialer(dialer, "tcp",
					net.JoinHostPort(host, fmt.Sprintf("%d", port)),
					&tls.Config{InsecureSkipVerify: true})
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				defer conn.Close()

				certs := conn.ConnectionState().PeerCertificates
				if len(certs) == 0 {
					return "sin certificado", models.SeverityInfo, nil, nil
				}
				leaf := certs[0]
				var findings []string
				sev := models.SeverityInfo
				findings = append(findings, "subject: "+leaf.Subject.String())
				findings = append(findings, "expira: "+leaf.NotAfter.Format("2006-01-02"))
				switch {
				case time.Now().After(leaf.NotAfter):
					findings = append(findings, "certificado CADUCADO")
					sev = models.SeverityHigh
				case time.Until(leaf.NotAfter) < 30*24*time.Hour:
					findings = append(findings, "certificado caduca en menos de 30 días")
					sev = models.SeverityMedium
				}
				if leaf.Issuer.String() == leaf.Subject.String() {
					findings = append(findings, "certificado autofirmado")
					if sev == models.SeverityInfo {
						sev = models.SeverityMedium
					}
				}
				return leaf.Subject.CommonName, sev, findings, nil
			},
		},
		{
			ID:          "ftp-anon",
			Name:        "FTP anónimo",
			Category:    "auth",
			Description: "Comprueba si el servidor FTP acepta login anónimo",
			PortApplicable: func(port int, service string) bool {
				return port == 21 || strings.Contains(strings.ToLower(service), "ftp")
			},
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(timeout))

				greeting := readLine(conn)
				if !strings.HasPrefix(greeting, "220") {
					return greeting, models.SeverityInfo, nil, nil
				}
				fmt.Fprintf(conn, "USER anonymous\r\n")
				if !strings.HasPrefix(readLine(conn), "331") {
					return "login anónimo rechazado", models.SeverityInfo, nil, nil
				}
				fmt.Fprintf(conn, "PASS sondare@example.com\r\n")
				if strings.HasPrefix(readLine(conn), "230") {
					return "login anónimo ACEPTADO", models.SeverityCritical,
						[]string{"FTP anónimo habilitado"}, nil
				}
				return "login anónimo rechazado", models.SeverityInfo, nil, nil
			},
		},
		{
			ID:          "redis-open",
			Name:        "Redis sin autenticación",
			Category:    "auth",
			Description: "Comprueba si Redis responde a INFO sin credenciales",
			PortApplicable: func(port int, service string) bool {
				return port == 6379 || strings.Contains(strings.ToLower(service), "redis")
			},
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
				if err != nil {
					return "", models.SeverityInfo, nil, err
				}
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(timeout))

				fmt.Fprintf(conn, "INFO\r\n")
				buf := make([]byte, 2048)
				n, _ := conn.Read(buf)
				resp := string(buf[:n])
				if strings.Contains(resp, "redis_version") {
					return "Redis responde sin autenticación", models.SeverityCritical,
						[]string{"Redis expuesto sin AUTH"}, nil
				}
				if strings.Contains(resp, "NOAUTH") {
					return "Redis requiere autenticación", models.SeverityInfo, nil, nil
				}
				return strings.TrimSpace(resp), models.SeverityInfo, nil, nil
			},
		},
		{
			ID:          "reverse-lookup",
			Name:        "Resolución inversa",
			Category:    "discovery",
			Description: "Resuelve el PTR del host",
			HostLevel:   true,
			Action: func(ctx context.Context, host string, port int, service string) (string, models.Severity, []string, error) {
				resCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				names, err := net.DefaultResolver.LookupAddr(resCtx, host)
				if err != nil || len(names) == 0 {
					return "sin registro PTR", models.SeverityInfo, nil, nil
				}
				return strings.Join(names, ", "), models.SeverityInfo, names, nil
			},
		},
	}
}

func webURL(host string, port int) string {
	scheme := "http"
	if probe.IsTLSPort(port) {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprintf("%d", port)))
}

func httpGet(ctx context.Context, client *http.Client, host string, port int) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, webURL(host, port)+"/", nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return string(body), resp.Header, nil
}

func readLine(conn net.Conn) string {
	buf := make([]byte, 512)
	n, _ := conn.Read(buf)
	return strings.TrimSpace(string(buf[:n]))
}
