package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/engine"
)

func newDiscoverCmd() *cobra.Command {
	var (
		target  string
		methods []string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Descubrimiento de hosts vivos (tcp-connect, http, dns)",
		RunE: func(cmd *cobra.Command, args []string) error {
			spinner, _ := pterm.DefaultSpinner.Start("Descubriendo hosts en " + target)

			hosts, err := eng.DiscoverHosts(cmd.Context(), target, methods, engine.DiscoveryHooks{
				OnProgress: func(percent float64, lastHost string) {
					spinner.UpdateText(fmt.Sprintf("Descubriendo hosts... %.0f%% (%s)", percent, lastHost))
				},
			})
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(fmt.Sprintf("%d hosts evaluados", len(hosts)))

			rows := pterm.TableData{{"IP", "HOSTNAME", "MÉTODO", "LATENCIA", "TTL"}}
			alive := 0
			for _, h := range hosts {
				if !h.IsAlive {
					continue
				}
				alive++
				ttl := ""
				if h.TTL > 0 {
					ttl = fmt.Sprintf("%d", h.TTL)
				}
				rows = append(rows, []string{h.IP, h.Hostname, h.Method, fmt.Sprintf("%dms", h.LatencyMs), ttl})
			}
			if alive > 0 {
				pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render()
			}
			pterm.Info.Printfln("%d hosts vivos de %d evaluados", alive, len(hosts))
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target: IP, CIDR, rango o hostname")
	cmd.Flags().StringSliceVarP(&methods, "methods", "m", nil, "métodos en orden (tcp-connect, http, dns)")
	cmd.MarkFlagRequired("target")
	return cmd
}
