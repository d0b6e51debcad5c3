package export

import (
	"encoding/json"
	"os"

	"github.com/juanotejeda/sondare/pkg/models"
)

// ToJSON exporta la corrida completa a JSON. El formato es el mismo que
// consume el subcomando compare.
func ToJSON(filename string, run *models.ScanRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o644)
}
