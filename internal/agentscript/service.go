package agentscript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"patchwatch/internal/model"
)

// EnvVar is one variable injected into a served script. Order is
// preserved in the rendered output.
type EnvVar struct {
	Name  string
	Value string
}

// ErrScriptNotFound is returned when neither the database nor the
// script directory holds the requested script.
var ErrScriptNotFound = errors.New("agent script not found")

// Script filenames looked up in the configured script directory
const (
	agentScriptFile   = "patchwatch-agent.sh"
	installScriptFile = "install.sh"
	removeScriptFile  = "remove.sh"
)

// Service serves stored or filesystem shell scripts with line-ending
// normalization and runtime env-var injection. Script content is
// treated as an opaque artifact; only the splice point matters.
type Service struct {
	db        *gorm.DB
	scriptDir string
}

// NewService creates an agent script service
func NewService(db *gorm.DB, scriptDir string) *Service {
	return &Service{db: db, scriptDir: scriptDir}
}

// NormalizeLineEndings converts CRLF to LF so scripts uploaded from
// Windows machines stay runnable under /bin/sh.
func NormalizeLineEndings(script string) string {
	return strings.ReplaceAll(script, "\r\n", "\n")
}

// InjectEnv splices an env-var block into a script immediately after
// the shebang line. Scripts without a shebang get the block prepended.
func InjectEnv(script string, vars []EnvVar) string {
	if len(vars) == 0 {
		return script
	}

	var block strings.Builder
	for _, v := range vars {
		block.WriteString(fmt.Sprintf("export %s=%q\n", v.Name, v.Value))
	}

	if strings.HasPrefix(script, "#!") {
		idx := strings.Index(script, "\n")
		if idx < 0 {
			return script + "\n" + block.String()
		}
		return script[:idx+1] + block.String() + script[idx+1:]
	}
	return block.String() + script
}

// Render normalizes line endings and injects the env block
func Render(script string, vars []EnvVar) string {
	return InjectEnv(NormalizeLineEndings(script), vars)
}

// AgentScript returns the agent script for the requested version, or
// the default version when empty. The database registry wins; the
// script directory is the fallback.
func (s *Service) AgentScript(version string) (string, error) {
	var row model.AgentVersion
	query := s.db.Where("is_default = ?", true)
	if version != "" {
		query = s.db.Where("version = ?", version)
	}
	err := query.First(&row).Error
	switch {
	case err == nil && row.Script != "":
		return row.Script, nil
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return "", err
	case version != "":
		// An explicitly requested version must exist in the registry.
		return "", ErrScriptNotFound
	}

	return s.readScriptFile(agentScriptFile)
}

// InstallScript returns the raw install script from the script directory
func (s *Service) InstallScript() (string, error) {
	return s.readScriptFile(installScriptFile)
}

// RemoveScript returns the raw removal script from the script directory
func (s *Service) RemoveScript() (string, error) {
	return s.readScriptFile(removeScriptFile)
}

func (s *Service) readScriptFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.scriptDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrScriptNotFound
		}
		return "", err
	}
	return string(data), nil
}
