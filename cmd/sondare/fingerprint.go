package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/engine"
	"github.com/juanotejeda/sondare/pkg/models"
)

func newFingerprintCmd() *cobra.Command {
	var (
		target string
		ports  string
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Inferir candidatos de sistema operativo",
		Long: `Escanea un conjunto de puertos, recoge evidencia indirecta (TTL,
cabeceras HTTP, servicios convencionales) y devuelve hasta 5 candidatos de SO
ordenados por confianza.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			startPort, endPort, err := parsePortRange(ports)
			if err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Recogiendo evidencia de " + target)

			observations, err := eng.CollectScan(cmd.Context(), engine.ScanOptions{
				Target:    target,
				StartPort: startPort,
				EndPort:   endPort,
				ScanType:  models.ScanConnect,
			})
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}

			// El descubrimiento aporta el TTL observado, la fuente más fiable
			discovery, _ := eng.DiscoverHosts(cmd.Context(), target, nil, engine.DiscoveryHooks{})
			spinner.Stop()

			candidates, err := eng.FingerprintOS(target, observations, discovery)
			if err != nil {
				return err
			}
			printFingerprints(candidates)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target a perfilar")
	cmd.Flags().StringVarP(&ports, "ports", "p", "1-1024", "puertos a escanear para la evidencia")
	cmd.MarkFlagRequired("target")
	return cmd
}
