package export

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/juanotejeda/sondare/pkg/models"
)

// ToCSV exporta las observaciones de puertos de una corrida a CSV, con el
// servicio detectado cuando lo hay
func ToCSV(filename string, run *models.ScanRun) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Target", "Puerto", "Protocolo", "Estado", "Latencia (ms)", "Servicio", "Versión", "Banner"}
	if err := writer.Write(header); err != nil {
		return err
	}

	services := make(map[int]models.DetectedService, len(run.Services))
	for _, svc := range run.Services {
		services[svc.Port] = svc
	}

	for _, obs := range run.Ports {
		svc := services[obs.Port]
		row := []string{
			run.Target,
			fmt.Sprintf("%d", obs.Port),
			obs.Protocol,
			string(obs.Status),
			fmt.Sprintf("%d", obs.LatencyMs),
			svc.Name,
			svc.Version,
			obs.Banner,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}
