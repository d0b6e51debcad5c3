package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/engine"
	"github.com/juanotejeda/sondare/internal/export"
	"github.com/juanotejeda/sondare/internal/service"
	"github.com/juanotejeda/sondare/pkg/models"
)

type scanFlags struct {
	target       string
	ports        string
	scanType     string
	timeoutMs    int
	concurrency  int
	withServices bool
	withOS       bool
	withFirewall bool
	scripts      []string
	outputJSON   string
	outputCSV    string
}

func newScanCmd() *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Escaneo de puertos con detección opcional de servicios, SO y firewall",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.target, "target", "t", "", "target: IP, CIDR, rango o hostname")
	flags.StringVarP(&f.ports, "ports", "p", "1-1024", "rango de puertos (ej. 80, 1-1024)")
	flags.StringVar(&f.scanType, "scan-type", "connect", "técnica solicitada (connect, syn, fin, null, xmas, ack)")
	flags.IntVar(&f.timeoutMs, "timeout", 0, "timeout por puerto en ms (0 = configuración)")
	flags.IntVarP(&f.concurrency, "concurrency", "c", 0, "probes concurrentes (0 = configuración)")
	flags.BoolVar(&f.withServices, "services", false, "identificar servicios en los puertos abiertos")
	flags.BoolVar(&f.withOS, "os", false, "inferir candidatos de sistema operativo")
	flags.BoolVar(&f.withFirewall, "firewall", false, "analizar presencia de firewall")
	flags.StringSliceVarP(&f.scripts, "scripts", "s", nil, "scripts a ejecutar contra los puertos abiertos")
	flags.StringVar(&f.outputJSON, "oj", "", "volcar la corrida completa a un fichero JSON")
	flags.StringVar(&f.outputCSV, "oc", "", "volcar los puertos observados a un fichero CSV")

	cmd.MarkFlagRequired("target")
	return cmd
}

func runScan(parent context.Context, f scanFlags) error {
	startPort, endPort, err := parsePortRange(f.ports)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Ctrl+C pide cancelación cooperativa: el lote en vuelo termina
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		pterm.Warning.Println("Cancelando escaneo...")
		eng.StopScan()
	}()

	run := &models.ScanRun{
		ID:        engine.NewRunID(),
		Target:    f.target,
		StartTime: time.Now(),
	}

	bar, _ := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(fmt.Sprintf("Escaneando %s", f.target)).
		Start()
	lastPercent := 0

	obsCh, err := eng.ScanPorts(ctx, engine.ScanOptions{
		Target:      f.target,
		StartPort:   startPort,
		EndPort:     endPort,
		ScanType:    models.ScanType(f.scanType),
		Timeout:     time.Duration(f.timeoutMs) * time.Millisecond,
		Concurrency: f.concurrency,
		OnProgress: func(percent float64, lastPort int) {
			p := int(percent)
			if p > lastPercent {
				bar.Add(p - lastPercent)
				lastPercent = p
			}
		},
	})
	if err != nil {
		bar.Stop()
		return err
	}

	for obs := range obsCh {
		run.Ports = append(run.Ports, obs)
	}
	bar.Stop()
	run.EndTime = time.Now()

	printPortTable(run.Ports)

	if f.withServices || len(f.scripts) > 0 {
		run.Services = eng.DetectServices(run.Ports)
	}
	if f.withServices {
		printServiceTable(run.Services)
	}

	if f.withOS {
		run.Fingerprints, err = eng.FingerprintOS(f.target, run.Ports, nil)
		if err != nil {
			return err
		}
		printFingerprints(run.Fingerprints)
	}

	if f.withFirewall {
		run.Firewall, err = eng.AnalyzeFirewall(ctx, f.target, run.Ports, nil)
		if err != nil {
			return err
		}
		printFirewall(run.Firewall)
	}

	if len(f.scripts) > 0 {
		run.Scripts, err = eng.RunScripts(ctx, f.scripts, f.target, run.Ports, engine.ScriptHooks{})
		if err != nil {
			return err
		}
		printScriptResults(run.Scripts)
	}

	if f.outputJSON != "" {
		if err := export.ToJSON(f.outputJSON, run); err != nil {
			return err
		}
		pterm.Success.Printfln("Corrida guardada en %s", f.outputJSON)
	}
	if f.outputCSV != "" {
		if err := export.ToCSV(f.outputCSV, run); err != nil {
			return err
		}
		pterm.Success.Printfln("Puertos exportados a %s", f.outputCSV)
	}
	return nil
}

// parsePortRange acepta "80" o "1-1024"
func parsePortRange(s string) (int, int, error) {
	if start, end, found := strings.Cut(s, "-"); found {
		sp, err1 := strconv.Atoi(strings.TrimSpace(start))
		ep, err2 := strconv.Atoi(strings.TrimSpace(end))
		if err1 != nil || err2 != nil {
			return 0, 0, fmt.Errorf("rango de puertos inválido: %s", s)
		}
		return sp, ep, nil
	}
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("puerto inválido: %s", s)
	}
	return p, p, nil
}

func printPortTable(ports []models.PortObservation) {
	rows := pterm.TableData{{"PUERTO", "ESTADO", "LATENCIA", "BANNER"}}
	open := 0
	for _, obs := range ports {
		if obs.Status == models.PortClosed {
			continue
		}
		if obs.Status == models.PortOpen {
			open++
		}
		banner := obs.Banner
		if len(banner) > 60 {
			banner = banner[:60] + "..."
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d/%s", obs.Port, obs.Protocol),
			string(obs.Status),
			fmt.Sprintf("%dms", obs.LatencyMs),
			banner,
		})
	}
	if len(rows) > 1 {
		pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render()
	}
	pterm.Info.Printfln("%d puertos abiertos de %d escaneados", open, len(ports))
}

func printServiceTable(services []models.DetectedService) {
	if len(services) == 0 {
		pterm.Warning.Println("Ningún servicio identificado.")
		return
	}
	rows := pterm.TableData{{"PUERTO", "SERVICIO", "VERSIÓN", "CONFIANZA", "CATEGORÍA"}}
	for _, svc := range services {
		rows = append(rows, []string{
			strconv.Itoa(svc.Port),
			svc.Name,
			svc.Version,
			fmt.Sprintf("%d%%", svc.Confidence),
			svc.Category,
		})
	}
	pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render()

	for _, svc := range services {
		for _, adv := range svc.Advisories {
			pterm.Warning.Printfln("%s puerto %d: %s", service.RiskLabel(adv.Risk), svc.Port, adv.Description)
		}
	}
}

func printFingerprints(candidates []models.OSFingerprintCandidate) {
	if len(candidates) == 0 {
		pterm.Warning.Println("Sin evidencia suficiente para inferir el SO.")
		return
	}
	rows := pterm.TableData{{"SO", "FAMILIA", "CONFIANZA", "MÉTODOS"}}
	for _, c := range candidates {
		rows = append(rows, []string{
			c.Name,
			c.Family,
			fmt.Sprintf("%d%%", c.Confidence),
			strings.Join(c.ContributingMethods, ", "),
		})
	}
	pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render()
}

func printFirewall(fw *models.FirewallAnalysis) {
	if fw.Detected {
		pterm.Warning.Printfln("Firewall detectado: tipo %s (confianza %d%%)", fw.Type, fw.Confidence)
	} else {
		pterm.Success.Printfln("Sin indicios de firewall (confianza %d%%)", fw.Confidence)
	}
	for _, ind := range fw.Indicators {
		pterm.Println("  • " + ind)
	}
	for _, rec := range fw.Recommendations {
		pterm.Info.Println(rec)
	}
}

func printScriptResults(results []models.ScriptResult) {
	for _, r := range results {
		label := fmt.Sprintf("[%s] %s:%d", r.ScriptID, r.Host, r.Port)
		switch r.State {
		case models.ScriptSuccess:
			pterm.Success.Printfln("%s (%s, %dms)", label, r.Severity, r.DurationMs)
		default:
			pterm.Error.Printfln("%s %s: %s", label, r.State, r.Output)
			continue
		}
		if r.Output != "" {
			pterm.Println("  " + strings.ReplaceAll(r.Output, "\n", "\n  "))
		}
		for _, finding := range r.Findings {
			pterm.Println("  → " + finding)
		}
	}
}
