package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"shellsage/internal/logging"
)

// Version constants
const (
	Version0 = 0 // flat, unversioned layout
	Version1 = 1 // agent/commands/workspace sections

	CurrentVersion = Version1
)

// Migration represents a single migration step
type Migration interface {
	FromVersion() int
	ToVersion() int
	Description() string
	Migrate(data []byte) ([]byte, error)
}

// DetectVersion determines the config version from raw YAML data
func DetectVersion(data []byte) int {
	var header struct {
		ConfigVersion int `yaml:"config_version"`
	}

	if err := yaml.Unmarshal(data, &header); err != nil {
		return Version0
	}
	return header.ConfigVersion
}

// MigrateConfig upgrades the file at configPath in place, keeping a backup of
// the original next to it.
func MigrateConfig(configPath string, logger *logging.Logger) error {
	logger = logger.With("config")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No config to migrate
		}
		return fmt.Errorf("read config: %w", err)
	}

	currentVersion := DetectVersion(data)

	if currentVersion >= CurrentVersion {
		return nil
	}

	logger.Info("config migration: v%d -> v%d", currentVersion, CurrentVersion)

	backupDir := filepath.Dir(configPath)
	backupName := fmt.Sprintf("config.yaml.backup.v%d.%s",
		currentVersion, time.Now().Format("20060102-150405"))
	backupPath := filepath.Join(backupDir, backupName)

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	logger.Info("config backed up to %s", backupPath)

	for _, migration := range GetMigrationChain(currentVersion, CurrentVersion) {
		logger.Info("applying migration: %s", migration.Description())
		data, err = migration.Migrate(data)
		if err != nil {
			return fmt.Errorf("migration v%d→v%d failed: %w",
				migration.FromVersion(), migration.ToVersion(), err)
		}
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write migrated config: %w", err)
	}

	logger.Info("config migration complete")
	return nil
}

// GetMigrationChain returns the sequence of migrations needed
func GetMigrationChain(fromVersion, toVersion int) []Migration {
	var chain []Migration
	current := fromVersion

	for current < toVersion {
		migration := getMigration(current)
		if migration == nil {
			break
		}
		chain = append(chain, migration)
		current = migration.ToVersion()
	}

	return chain
}

// getMigration returns the migration from a specific version
func getMigration(fromVersion int) Migration {
	switch fromVersion {
	case Version0:
		return &MigrationV0toV1{}
	default:
		return nil
	}
}
