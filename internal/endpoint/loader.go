package endpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
)

// SQLDir is the subdirectory holding SQL files referenced by descriptions.
const SQLDir = "sql"

// IsDescriptionFile reports whether name is loaded as a description.
func IsDescriptionFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// LoadDir loads every description in dir.
func LoadDir(dir string) ([]*Endpoint, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads the YAML descriptions at the root of fsys and resolves their
// SQL files from the sql/ subdirectory. All file-level problems are collected
// into one apperr.ConfigurationErrors.
func LoadFS(fsys fs.FS) ([]*Endpoint, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read description directory: %w", err)
	}

	var endpoints []*Endpoint
	var errs apperr.ConfigurationErrors
	for _, entry := range entries {
		if entry.IsDir() || !IsDescriptionFile(entry.Name()) {
			continue
		}
		ep, err := loadFile(fsys, entry.Name())
		if err != nil {
			var cfgErr *apperr.ConfigurationError
			if !errors.As(err, &cfgErr) {
				cfgErr = &apperr.ConfigurationError{Message: fmt.Sprintf("%s: %v", entry.Name(), err)}
			}
			errs = append(errs, cfgErr)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(endpoints) == 0 {
		return nil, apperr.ConfigurationErrors{{Message: "no endpoint descriptions found"}}
	}
	return endpoints, nil
}

func loadFile(fsys fs.FS, name string) (*Endpoint, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	ep, sqlFile, err := ParseDescription(data)
	if err != nil {
		return nil, err
	}
	ep.Source = name
	if sqlFile != "" {
		text, err := fs.ReadFile(fsys, path.Join(SQLDir, sqlFile))
		if err != nil {
			return nil, apperr.Configf(ep.Name, "%s: failed to read sql file %q: %v", name, sqlFile, err)
		}
		ep.SQL = string(text)
	}
	if strings.TrimSpace(ep.SQL) == "" {
		return nil, apperr.Configf(ep.Name, "%s: no sql or query given", name)
	}
	return ep, nil
}
