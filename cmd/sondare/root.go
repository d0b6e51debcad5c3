package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/config"
	"github.com/juanotejeda/sondare/internal/engine"
	"github.com/juanotejeda/sondare/internal/logging"
	"github.com/juanotejeda/sondare/internal/service"
	"github.com/juanotejeda/sondare/pkg/models"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logrus.Logger
	eng *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "sondare",
	Short: "sondare - reconocimiento de red en espacio de usuario",
	Long: `sondare es un motor de reconocimiento de red que opera con sockets
normales de usuario: escaneo de puertos TCP connect, descubrimiento de hosts,
identificación de servicios por banner, fingerprint heurístico de SO,
análisis de firewall y scripts de seguridad.

Ejemplos:
  sondare scan -t 192.168.1.10 -p 1-1024
  sondare discover -t 192.168.1.0/24
  sondare firewall -t ejemplo.com
  sondare scripts run -t 192.168.1.10 -s banner-grab,http-title`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRuntime()
	},
}

// Execute punto de entrada del CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "ruta del fichero de configuración (por defecto ./sondare.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "nivel de log (debug, info, warn, error)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newFingerprintCmd())
	rootCmd.AddCommand(newFirewallCmd())
	rootCmd.AddCommand(newScriptsCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initRuntime carga configuración, logger y engine compartidos por todos los
// subcomandos
func initRuntime() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}

	var extra []models.ServiceSignature
	if cfg.Scan.SignatureFile != "" {
		extra, err = service.LoadSignatureFile(cfg.Scan.SignatureFile)
		if err != nil {
			return fmt.Errorf("error cargando firmas extra: %w", err)
		}
		log.Infof("cargadas %d firmas adicionales de %s", len(extra), cfg.Scan.SignatureFile)
	}

	eng = engine.New(log, engine.Options{
		Timeout:       cfg.Scan.Timeout(),
		Concurrency:   cfg.Scan.Concurrency,
		ExtraSigs:     extra,
		ScriptTimeout: cfg.Scripts.Timeout(),
	})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Versión de la herramienta",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sondare %s (compilado %s)\n", appVersion, buildDate)
		},
	}
}

// Inyectados con -ldflags en la build de release
var (
	appVersion = "1.2.0"
	buildDate  = "dev"
)
