package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// decodeYAML decodes YAML (or JSON, which is valid YAML) into out using
// out's json tags, so file input and API input share one shape.
func decodeYAML(data []byte, out any) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.NewValidationError("input", "invalid YAML: %v", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return domain.NewValidationError("input", "unsupported document: %v", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return domain.NewValidationError("input", "%v", err)
	}
	return nil
}

func readYAML(cmd *cobra.Command, path string, out any) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	return decodeYAML(data, out)
}

func readPayload(cmd *cobra.Command, path string) (map[string]any, error) {
	if path == "" {
		return nil, domain.NewValidationError("payload", "a payload file is required")
	}
	var payload map[string]any
	if err := readYAML(cmd, path, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// readProgram loads a rate program document.
func readProgram(cmd *cobra.Command, path string) (domain.RateProgram, error) {
	payload, err := readPayload(cmd, path)
	if err != nil {
		return domain.RateProgram{}, err
	}
	return services.DecodeRateProgram(payload)
}

// readTables loads a document mapping table name to table definition.
func readTables(cmd *cobra.Command, path string) (domain.TableSet, error) {
	tables := domain.TableSet{}
	if path == "" {
		return tables, nil
	}
	var raw map[string]map[string]any
	if err := readYAML(cmd, path, &raw); err != nil {
		return nil, err
	}
	for name, payload := range raw {
		table, err := services.DecodeTable(name, payload)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables[name] = table
	}
	return tables, nil
}

// readContexts loads one evaluation context or a list of them. The boolean
// reports whether the document was a list.
func readContexts(cmd *cobra.Command, path string) ([]domain.EvalContext, bool, error) {
	if path == "" {
		return nil, false, domain.NewValidationError("context", "a context file is required")
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, false, err
	}
	var many []domain.EvalContext
	if err := decodeYAML(data, &many); err == nil {
		return many, true, nil
	}
	var one domain.EvalContext
	if err := decodeYAML(data, &one); err != nil {
		return nil, false, err
	}
	return []domain.EvalContext{one}, false, nil
}

// parseAssignments turns key=value pairs into lookup inputs. Numeric values
// are passed as numbers so range dimensions can bucket them.
func parseAssignments(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, domain.NewValidationError("set", "expected key=value, got %q", pair)
		}
		value = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			values[key] = f
			continue
		}
		values[key] = value
	}
	return values, nil
}

// parseTime accepts RFC 3339 timestamps or bare dates. Empty means unset.
func parseTime(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, domain.NewValidationError(field, "expected RFC 3339 time or YYYY-MM-DD, got %q", s)
}
