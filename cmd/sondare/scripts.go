package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/engine"
	"github.com/juanotejeda/sondare/pkg/models"
)

func newScriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Listar y ejecutar scripts de seguridad",
	}
	cmd.AddCommand(newScriptsListCmd())
	cmd.AddCommand(newScriptsRunCmd())
	return cmd
}

func newScriptsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Catálogo de scripts disponibles",
		Run: func(cmd *cobra.Command, args []string) {
			rows := pterm.TableData{{"ID", "CATEGORÍA", "ÁMBITO", "DESCRIPCIÓN"}}
			for _, s := range eng.AvailableScripts() {
				scope := "puerto"
				if s.HostLevel {
					scope = "host"
				}
				rows = append(rows, []string{s.ID, s.Category, scope, s.Description})
			}
			pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render()
		},
	}
}

func newScriptsRunCmd() *cobra.Command {
	var (
		target string
		ports  string
		ids    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ejecutar scripts contra los puertos abiertos del target",
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

			spinner, _ := pterm.DefaultSpinner.Start("Ejecutando scripts")
			results, err := eng.RunScripts(cmd.Context(), ids, target, observations, engine.ScriptHooks{
				OnProgress: func(completed, total int) {
					spinner.UpdateText(pterm.Sprintf("Ejecutando scripts %d/%d", completed, total))
				},
			})
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(pterm.Sprintf("%d ejecuciones completadas", len(results)))

			printScriptResults(results)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target")
	cmd.Flags().StringVarP(&ports, "ports", "p", "1-1024", "puertos a escanear antes de los scripts")
	cmd.Flags().StringSliceVarP(&ids, "scripts", "s", nil, "IDs de scripts a ejecutar")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("scripts")
	return cmd
}
