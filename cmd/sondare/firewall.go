package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/engine"
	"github.com/juanotejeda/sondare/pkg/models"
)

func newFirewallCmd() *cobra.Command {
	var (
		target string
		ports  string
	)

	cmd := &cobra.Command{
		Use:   "firewall",
		Short: "Analizar presencia de firewall o filtrado de paquetes",
		RunE: func(cmd *cobra.Command, args []string) error {
			startPort, endPort, err := parsePortRange(ports)
			if err != nil {
				return err
			}

			observations, err := eng.CollectScan(cmd.Context(), engine.ScanOptions{
				Target:    target,
				StartPort: startPort,
				EndPort:   endPort,
				ScanType:  models.ScanConnect,
			})
			if err != nil {
				return err
			}

			bar, _ := pterm.DefaultProgressbar.
				WithTotal(100).
				WithTitle(fmt.Sprintf("Analizando firewall en %s", target)).
				Start()
			lastPercent := 0

			analysis, err := eng.AnalyzeFirewall(cmd.Context(), target, observations,
				func(percent float64, stage string) {
					p := int(percent)
					if p > lastPercent {
						bar.Add(p - lastPercent)
						lastPercent = p
					}
					bar.UpdateTitle(stage)
				})
			bar.Stop()
			if err != nil {
				return err
			}

			printFirewall(analysis)
			pterm.Info.Printfln("Latencia media %.1fms, varianza %.1f, %d puertos filtrados",
				analysis.AvgResponseTimeMs, analysis.ResponseVarianceMs, analysis.FilteredPortCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target a analizar")
	cmd.Flags().StringVarP(&ports, "ports", "p", "1-1024", "puertos base para el análisis")
	cmd.MarkFlagRequired("target")
	return cmd
}
