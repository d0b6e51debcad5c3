// Package target clasifica y expande targets de escaneo (IP, rango, CIDR, hostname).
// Solo clasificación y aritmética de direcciones: nada de I/O de red.
package target

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/juanotejeda/sondare/pkg/models"
)

// MaxExpandedHosts tope de hosts al expandir un rango o CIDR.
// Acota el uso de recursos del sandbox.
const MaxExpandedHosts = 256

// Formato de rango estilo "192.168.1.1-10" (el final es solo el último octeto)
var rangeRe = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}\.\d{1,3}\.)(\d{1,3})-(\d{1,3})$`)

// Hostnames tipo RFC 1123: labels alfanuméricos separados por puntos
var hostnameRe = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$|^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// Parse valida y clasifica el input como IP, CIDR, rango o hostname.
// Devuelve models.ErrInvalidTarget si no encaja en ningún formato.
func Parse(input string) (*models.Target, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: entrada vacía", models.ErrInvalidTarget)
	}

	if ip := net.ParseIP(trimmed); ip != nil {
		return &models.Target{Type: models.TargetIP, Value: trimmed}, nil
	}

	if strings.Contains(trimmed, "/") {
		if _, _, err := net.ParseCIDR(trimmed); err != nil {
			return nil, fmt.Errorf("%w: CIDR inválido %q", models.ErrInvalidTarget, trimmed)
		}
		return &models.Target{Type: models.TargetCIDR, Value: trimmed}, nil
	}

	if m := rangeRe.FindStringSubmatch(trimmed); m != nil {
		start, _ := strconv.Atoi(m[2])
		end, _ := strconv.Atoi(m[3])
		if start > 255 || end > 255 || start > end || net.ParseIP(m[1]+m[2]) == nil {
			return nil, fmt.Errorf("%w: rango inválido %q", models.ErrInvalidTarget, trimmed)
		}
		return &models.Target{Type: models.TargetRange, Value: trimmed}, nil
	}

	if hostnameRe.MatchString(trimmed) && !isAllDigitsAndDots(trimmed) {
		return &models.Target{Type: models.TargetHostname, Value: trimmed}, nil
	}

	return nil, fmt.Errorf("%w: %q", models.ErrInvalidTarget, trimmed)
}

// isAllDigitsAndDots descarta pseudo-IPs malformadas ("999.1.2.3") como hostnames
func isAllDigitsAndDots(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// ExpandHosts expande un target a direcciones concretas, acotado a MaxExpandedHosts.
// IPs y hostnames devuelven un único elemento.
func ExpandHosts(t *models.Target) ([]string, error) {
	switch t.Type {
	case models.TargetIP, models.TargetHostname:
		return []string{t.Value}, nil
	case models.TargetRange:
		return expandRange(t.Value)
	case models.TargetCIDR:
		return expandCIDR(t.Value)
	default:
		return nil, fmt.Errorf("%w: tipo desconocido %q", models.ErrInvalidTarget, t.Type)
	}
}

func expandRange(value string) ([]string, error) {
	m := rangeRe.FindStringSubmatch(value)
	if m == nil {
		return nil, fmt.Errorf("%w: rango %q", models.ErrInvalidTarget, value)
	}
	start, _ := strconv.Atoi(m[2])
	end, _ := strconv.Atoi(m[3])

	var hosts []string
	for i := start; i <= end && len(hosts) < MaxExpandedHosts; i++ {
		hosts = append(hosts, fmt.Sprintf("%s%d", m[1], i))
	}
	return hosts, nil
}

func expandCIDR(value string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(value)
	if err != nil {
		return nil, fmt.Errorf("%w: CIDR %q", models.ErrInvalidTarget, value)
	}

	var hosts []string
	for cur := ip.Mask(ipnet.Mask); ipnet.Contains(cur); incIP(cur) {
		hosts = append(hosts, cur.String())
		if len(hosts) >= MaxExpandedHosts {
			break
		}
	}

	// Quitar dirección de red y broadcast en redes comunes (no /31 ni /32)
	ones, bits := ipnet.Mask.Size()
	if bits == 32 && ones < 31 && len(hosts) >= 2 {
		if hosts[0] == ipnet.IP.Mask(ipnet.Mask).String() {
			hosts = hosts[1:]
		}
		broadcast := make(net.IP, len(ipnet.IP.To4()))
		for i := range broadcast {
			broadcast[i] = ipnet.IP.To4()[i] | ^ipnet.Mask[i]
		}
		if len(hosts) > 0 && hosts[len(hosts)-1] == broadcast.String() {
			hosts = hosts[:len(hosts)-1]
		}
	}
	return hosts, nil
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
