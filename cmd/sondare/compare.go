package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanotejeda/sondare/internal/comparison"
	"github.com/juanotejeda/sondare/pkg/models"
)

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <corrida1.json> <corrida2.json>",
		Short: "Comparar dos corridas guardadas con --oj",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			older, err := readRunJSON(args[0])
			if err != nil {
				return err
			}
			newer, err := readRunJSON(args[1])
			if err != nil {
				return err
			}

			result := comparison.Compare(older, newer)
			pterm.Println(result.Summary)
			return nil
		},
	}
}

func readRunJSON(path string) (*models.ScanRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo %s: %w", path, err)
	}
	var run models.ScanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("corrida inválida en %s: %w", path, err)
	}
	return &run, nil
}
