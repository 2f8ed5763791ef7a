package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// WriteReport writes the result as indented JSON to path, creating
// parent directories as needed.
func WriteReport(res Result, path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("backtest: marshal report: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("backtest: create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("backtest: write report: %w", err)
	}
	return nil
}

// Publish uploads the result to object storage under
// backtest/{generated-at}.json and returns the object key.
func Publish(ctx context.Context, writer domain.BlobWriter, res Result) (string, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("backtest: marshal report: %w", err)
	}

	key := fmt.Sprintf("backtest/%s.json", res.GeneratedAt.Format("2006-01-02T15-04-05Z"))
	if err := writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("backtest: publish report: %w", err)
	}
	return key, nil
}
