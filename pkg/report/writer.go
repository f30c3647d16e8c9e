package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Write writes report.json and one detail file per flow under outputDir.
func Write(outputDir string, index *Index, details []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}
	for _, fd := range details {
		if err := atomicWriteJSON(filepath.Join(outputDir, "flows", fd.ID+".json"), fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}
	}
	if err := atomicWriteJSON(filepath.Join(outputDir, "report.json"), index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// ReadReport reads the index and every flow detail it lists.
func ReadReport(outputDir string) (*Index, []FlowDetail, error) {
	var index Index
	if err := readJSON(filepath.Join(outputDir, "report.json"), &index); err != nil {
		return nil, nil, err
	}
	details := make([]FlowDetail, len(index.Flows))
	for i, f := range index.Flows {
		if err := readJSON(filepath.Join(outputDir, f.DataFile), &details[i]); err != nil {
			return nil, nil, err
		}
	}
	return &index, details, nil
}

// atomicWriteJSON writes v to a temp file and renames it over path so
// readers never see a partial file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
