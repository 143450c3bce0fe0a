// Package scaffold writes a starter council definition.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emilixs/Aicouncil/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the file Initialize writes.
const ConfigFile = config.DefaultPath

// Initialize writes council.yml into dir and returns its path. An existing
// file is only replaced when force is set.
func Initialize(dir string, force bool) (string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := templatesFS.ReadFile("templates/council.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read council.yml template: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must always load, whatever the config rules become
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is invalid: %w", path, err)
	}

	return path, nil
}

// PrintSuccess prints the created file and the next steps.
func PrintSuccess(path string) {
	fmt.Println("\n✅ Successfully initialized a council!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the experts, or set COUNCIL_MODE=mock to try it without API keys")
	fmt.Println("  2. Store the experts: council experts load")
	fmt.Println("  3. Create a session:  council session create -p \"...\" -e architect,operator")
}
