// Package comparison hace diff entre dos corridas completas: hosts que
// aparecen o desaparecen y puertos que se abren o se cierran entre corridas.
package comparison

import (
	"fmt"
	"sort"

	"github.com/juanotejeda/sondare/pkg/models"
)

// Result resultado de comparación entre dos corridas
type Result struct {
	Older        *models.ScanRun
	Newer        *models.ScanRun
	NewHosts     []string
	RemovedHosts []string
	OpenedPorts  []PortChange
	ClosedPorts  []PortChange
	Summary      string
}

// PortChange representa un cambio de estado de un puerto entre corridas
type PortChange struct {
	Port     int
	Protocol string
	Service  string
	Action   string // "opened" o "closed"
}

// Compare compara dos corridas del mismo target. Solo cuentan como abiertos
// los puertos con estado open; filtered y timeout no participan del diff.
func Compare(older, newer *models.ScanRun) *Result {
	result := &Result{
		Older: older,
		Newer: newer,
	}

	oldAlive := aliveHosts(older.Hosts)
	newAlive := aliveHosts(newer.Hosts)

	for ip := range newAlive {
		if !oldAlive[ip] {
			result.NewHosts = append(result.NewHosts, ip)
		}
	}
	for ip := range oldAlive {
		if !newAlive[ip] {
			result.RemovedHosts = append(result.RemovedHosts, ip)
		}
	}
	sort.Strings(result.NewHosts)
	sort.Strings(result.RemovedHosts)

	oldOpen := openPorts(older)
	newOpen := openPorts(newer)

	for key, obs := range newOpen {
		if _, exists := oldOpen[key]; !exists {
			result.OpenedPorts = append(result.OpenedPorts, PortChange{
				Port:     obs.Port,
				Protocol: obs.Protocol,
				Service:  serviceName(newer, obs.Port),
				Action:   "opened",
			})
		}
	}
	for key, obs := range oldOpen {
		if _, exists := newOpen[key]; !exists {
			result.ClosedPorts = append(result.ClosedPorts, PortChange{
				Port:     obs.Port,
				Protocol: obs.Protocol,
				Service:  serviceName(older, obs.Port),
				Action:   "closed",
			})
		}
	}
	sort.Slice(result.OpenedPorts, func(i, j int) bool { return result.OpenedPorts[i].Port < result.OpenedPorts[j].Port })
	sort.Slice(result.ClosedPorts, func(i, j int) bool { return result.ClosedPorts[i].Port < result.ClosedPorts[j].Port })

	result.Summary = generateSummary(result)
	return result
}

func aliveHosts(hosts []models.DiscoveryObservation) map[string]bool {
	out := make(map[string]bool)
	for _, h := range hosts {
		if h.IsAlive {
			out[h.IP] = true
		}
	}
	return out
}

func openPorts(run *models.ScanRun) map[string]models.PortObservation {
	out := make(map[string]models.PortObservation)
	for _, obs := range run.Ports {
		if obs.Status == models.PortOpen {
			out[fmt.Sprintf("%d-%s", obs.Port, obs.Protocol)] = obs
		}
	}
	return out
}

func serviceName(run *models.ScanRun, port int) string {
	for _, svc := range run.Services {
		if svc.Port == port {
			return svc.Name
		}
	}
	return ""
}

func generateSummary(result *Result) string {
	summary := "COMPARACIÓN DE ESCANEOS\n\n"
	summary += fmt.Sprintf("Escaneo 1: %s (%s)\n", result.Older.Target, result.Older.StartTime.Format("2006-01-02 15:04"))
	summary += fmt.Sprintf("Escaneo 2: %s (%s)\n\n", result.Newer.Target, result.Newer.StartTime.Format("2006-01-02 15:04"))

	duration := result.Newer.StartTime.Sub(result.Older.StartTime)
	summary += fmt.Sprintf("Tiempo transcurrido: %v\n\n", duration)

	summary += "═══════════════════════════════════════\n\n"

	if len(result.NewHosts) > 0 {
		summary += fmt.Sprintf("✅ HOSTS NUEVOS (%d):\n", len(result.NewHosts))
		for _, host := range result.NewHosts {
			summary += fmt.Sprintf("  + %s\n", host)
		}
		summary += "\n"
	}

	if len(result.RemovedHosts) > 0 {
		summary += fmt.Sprintf("❌ HOSTS REMOVIDOS (%d):\n", len(result.RemovedHosts))
		for _, host := range result.RemovedHosts {
			summary += fmt.Sprintf("  - %s\n", host)
		}
		summary += "\n"
	}

	if len(result.OpenedPorts) > 0 {
		summary += fmt.Sprintf("🟢 PUERTOS ABIERTOS (%d):\n", len(result.OpenedPorts))
		for _, port := range result.OpenedPorts {
			summary += fmt.Sprintf("  + %d/%s [%s]\n", port.Port, port.Protocol, port.Service)
		}
		summary += "\n"
	}

	if len(result.ClosedPorts) > 0 {
		summary += fmt.Sprintf("🔴 PUERTOS CERRADOS (%d):\n", len(result.ClosedPorts))
		for _, port := range result.ClosedPorts {
			summary += fmt.Sprintf("  - %d/%s [%s]\n", port.Port, port.Protocol, port.Service)
		}
		summary += "\n"
	}

	if len(result.NewHosts) == 0 && len(result.RemovedHosts) == 0 &&
		len(result.OpenedPorts) == 0 && len(result.ClosedPorts) == 0 {
		summary += "No se detectaron cambios.\n"
	}

	return summary
}
