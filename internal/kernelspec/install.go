package kernelspec

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/kernelx/schema"
)

// Install writes spec as dataDir/kernels/<name>/kernel.json, replacing any
// existing file atomically. It returns the resource directory.
func Install(dataDir string, spec schema.KernelSpecification) (string, error) {
	if strings.TrimSpace(dataDir) == "" {
		return "", errors.New("kernelspec data directory is required")
	}
	name := sanitize(string(spec.Name))
	if name == "" {
		return "", errors.New("kernelspec name is required")
	}
	resourceDir := filepath.Join(dataDir, "kernels", name)
	if err := os.MkdirAll(resourceDir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(resourceDir, "kernel-*.json")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(resourceDir, specFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return resourceDir, nil
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
