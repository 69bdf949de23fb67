package solc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Manager locates solc binaries installed by solc-select or py-solc-x and
// installs missing releases through solc-select.
type Manager struct {
	// HomeDir defaults to the user's home directory.
	HomeDir string
	// SelectBinary defaults to "solc-select".
	SelectBinary string

	mu           sync.RWMutex
	versionCache map[string]string
	installLocks sync.Map
}

func NewManager() *Manager {
	return &Manager{versionCache: make(map[string]string)}
}

// GetSolcPath returns the binary for version. "latest" and empty versions
// resolve to the solc on PATH.
func (m *Manager) GetSolcPath(ctx context.Context, version string) (string, error) {
	version = normalizeVersion(version)
	if version == "" || version == Latest {
		return exec.LookPath("solc")
	}

	m.mu.RLock()
	path, ok := m.versionCache[version]
	m.mu.RUnlock()
	if ok && fileExists(path) {
		return path, nil
	}

	if path, err := m.findInstalled(version); err == nil {
		m.cachePath(version, path)
		return path, nil
	}

	if err := m.install(ctx, version); err != nil {
		return "", err
	}
	path, err := m.findInstalled(version)
	if err != nil {
		return "", fmt.Errorf("solc %s installed but not found: %w", version, err)
	}
	m.cachePath(version, path)
	return path, nil
}

func normalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	for _, prefix := range []string{"^", ">=", "<=", ">", "<", "~", "="} {
		version = strings.TrimPrefix(version, prefix)
	}
	if i := strings.IndexByte(version, '+'); i >= 0 {
		version = version[:i]
	}
	return strings.TrimSpace(version)
}

func (m *Manager) cachePath(version, path string) {
	m.mu.Lock()
	if m.versionCache == nil {
		m.versionCache = make(map[string]string)
	}
	m.versionCache[version] = path
	m.mu.Unlock()
}

func (m *Manager) home() (string, error) {
	if m.HomeDir != "" {
		return m.HomeDir, nil
	}
	return os.UserHomeDir()
}

// candidatePaths lists where solc-select and py-solc-x put a release.
func (m *Manager) candidatePaths(version string) ([]string, error) {
	homeDir, err := m.home()
	if err != nil {
		return nil, err
	}
	exe := ""
	if runtime.GOOS == "windows" {
		exe = ".exe"
	}
	selectDir := filepath.Join(homeDir, ".solc-select", "artifacts", "solc-"+version)
	solcxDir := filepath.Join(homeDir, ".solcx")
	return []string{
		filepath.Join(selectDir, "solc-"+version+exe),
		filepath.Join(selectDir, "solc"+exe),
		filepath.Join(homeDir, ".solc-select", "artifacts", version, "solc-"+version+exe),
		filepath.Join(solcxDir, "solc-v"+version),
		filepath.Join(solcxDir, "solc-v"+version, "bin", "solc"),
		filepath.Join(solcxDir, "solc-"+version),
	}, nil
}

func (m *Manager) findInstalled(version string) (string, error) {
	paths, err := m.candidatePaths(version)
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		if fileExists(path) && isExecutable(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("solc %s not found", version)
}

// install runs "solc-select install" at most once per version.
func (m *Manager) install(ctx context.Context, version string) error {
	bin := m.SelectBinary
	if bin == "" {
		bin = "solc-select"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("failed to install solc %s, please install manually: solc-select install %s", version, version)
	}

	once, _ := m.installLocks.LoadOrStore(version, &installOnce{})
	o := once.(*installOnce)
	o.once.Do(func() {
		out, err := exec.CommandContext(ctx, bin, "install", version).CombinedOutput()
		if err != nil {
			o.err = fmt.Errorf("solc-select install %s failed: %v: %s", version, err, strings.TrimSpace(string(out)))
		}
	})
	return o.err
}

type installOnce struct {
	once sync.Once
	err  error
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}
