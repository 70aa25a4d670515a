package companies

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ksred/marketracker-api/internal/types"
	"gopkg.in/yaml.v3"
)

// LoadGlobs reads every CSV or YAML file matched by patterns, e.g.
// "data/**/*.csv"
func LoadGlobs(patterns ...string) ([]types.Company, error) {
	var all []types.Company
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", pattern)
		}
		for _, path := range matches {
			companies, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			all = append(all, companies...)
		}
	}
	return all, nil
}

// LoadFile reads companies from a .csv, .yaml or .yml file
func LoadFile(path string) ([]types.Company, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		companies, err := ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return companies, nil
	case ".yaml", ".yml":
		companies, err := ReadYAML(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return companies, nil
	default:
		return nil, fmt.Errorf("%s: unsupported file type", path)
	}
}

// ReadCSV reads symbol,name rows. A header row naming the columns is
// optional and may list them in any order.
func ReadCSV(r io.Reader) ([]types.Company, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	symbolCol, nameCol := 0, 1
	var companies []types.Company
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if line == 1 {
			if s, n, ok := headerColumns(record); ok {
				symbolCol, nameCol = s, n
				continue
			}
		}
		if len(record) <= symbolCol || len(record) <= nameCol {
			return nil, fmt.Errorf("line %d: expected symbol and name", line)
		}
		companies = append(companies, types.Company{
			Symbol: record[symbolCol],
			Name:   record[nameCol],
		})
	}
	return companies, nil
}

func headerColumns(record []string) (symbol, name int, ok bool) {
	symbol, name = -1, -1
	for i, col := range record {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "symbol", "ticker":
			symbol = i
		case "name", "company", "security":
			name = i
		}
	}
	return symbol, name, symbol >= 0 && name >= 0
}

// ReadYAML reads either a list of {symbol, name} or {companies: [...]}
func ReadYAML(r io.Reader) ([]types.Company, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var list []types.Company
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Companies []types.Company `yaml:"companies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Companies, nil
}
