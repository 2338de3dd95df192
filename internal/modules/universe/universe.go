// Package universe loads the tradable symbol list from a CSV file.
package universe

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Load reads the universe CSV at path and returns the sorted, deduplicated
// list of uppercase symbols. The file must carry a 'symbol' column header.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("universe file not found: %s (create a CSV with a 'symbol' column)", path)
		}
		return nil, fmt.Errorf("failed to open universe file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("universe CSV must include a 'symbol' column header")
	}

	symbolCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "symbol") {
			symbolCol = i
			break
		}
	}
	if symbolCol < 0 {
		return nil, fmt.Errorf("universe CSV must include a 'symbol' column header")
	}

	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read universe CSV: %w", err)
		}
		if symbolCol >= len(record) {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(record[symbolCol]))
		if symbol != "" {
			seen[symbol] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("universe CSV contains no symbols")
	}

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return symbols, nil
}

// WithBenchmark appends the benchmark symbol to the universe when it is not
// already a member, keeping the result sorted.
func WithBenchmark(symbols []string, benchmark string) []string {
	benchmark = strings.ToUpper(strings.TrimSpace(benchmark))
	if benchmark == "" {
		return symbols
	}
	for _, symbol := range symbols {
		if symbol == benchmark {
			return symbols
		}
	}
	out := make([]string, 0, len(symbols)+1)
	out = append(out, symbols...)
	out = append(out, benchmark)
	sort.Strings(out)
	return out
}
