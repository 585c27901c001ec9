package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

// Emitter writes prediction batches as CSV or JSON artifacts
type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// EmitSignalsCSV writes one row per signal, longs first
func (e *Emitter) EmitSignalsCSV(filePath string, batch market.Batch) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	return e.WriteSignalsCSV(file, batch)
}

// WriteSignalsCSV is EmitSignalsCSV for an arbitrary writer
func (e *Emitter) WriteSignalsCSV(w io.Writer, batch market.Batch) error {
	writer := csv.NewWriter(w)

	header := []string{"GeneratedAt", "Side", "Rank", "Symbol", "Score"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	generated := batch.GeneratedAt.UTC().Format(time.RFC3339)
	for _, sig := range batch.Signals() {
		record := []string{
			generated,
			string(sig.Side),
			strconv.Itoa(sig.Rank),
			sig.Symbol,
			fmt.Sprintf("%.6f", sig.Score),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// EmitSignalsJSON writes the batch with its model metadata
func (e *Emitter) EmitSignalsJSON(filePath string, batch market.Batch, modelVersion int64) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	return e.WriteSignalsJSON(file, batch, modelVersion)
}

// WriteSignalsJSON is EmitSignalsJSON for an arbitrary writer
func (e *Emitter) WriteSignalsJSON(w io.Writer, batch market.Batch, modelVersion int64) error {
	data := map[string]interface{}{
		"metadata": map[string]interface{}{
			"generated_at":  batch.GeneratedAt.UTC(),
			"model_version": modelVersion,
			"long_count":    len(batch.Long),
			"short_count":   len(batch.Short),
		},
		"long":  nonNil(batch.Long),
		"short": nonNil(batch.Short),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func nonNil(s []market.Signal) []market.Signal {
	if s == nil {
		return []market.Signal{}
	}
	return s
}
