package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockFsUtils struct {
	executable    string
	executableErr error
	statMap       map[string]os.FileInfo
	statErr       error
	readFileMap   map[string][]byte
	readFileErr   error
	homeDir       string
	homeDirErr    error
	cwd           string
	cwdErr        error
}

func (m *mockFsUtils) Executable() (string, error) { return m.executable, m.executableErr }
func (m *mockFsUtils) Stat(name string) (os.FileInfo, error) {
	if info, ok := m.statMap[name]; ok {
		return info, nil
	}
	return nil, m.statErr
}
func (m *mockFsUtils) ReadFile(name string) ([]byte, error) {
	if content, ok := m.readFileMap[name]; ok {
		return content, nil
	}
	return nil, m.readFileErr
}
func (m *mockFsUtils) UserHomeDir() (string, error) { return m.homeDir, m.homeDirErr }
func (m *mockFsUtils) Getwd() (string, error)       { return m.cwd, m.cwdErr }

func captureDoctorOutput(t *testing.T, utils fsUtils) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	runErr := runDoctorWithUtils("test-version", utils)
	w.Close()
	return <-outC, runErr
}

func TestDoctorNoConfigFiles(t *testing.T) {
	// No config files anywhere: both config checks warn, nothing fails.
	mockUtils := &mockFsUtils{
		executable: "/usr/local/bin/timelens",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/timelens": &mockFileInfo{mode: 0755},
		},
		statErr: os.ErrNotExist,
	}

	out, err := captureDoctorOutput(t, mockUtils)
	assert.NoError(t, err)
	assert.Contains(t, out, "✓ Binary is executable")
	assert.Contains(t, out, "⚠ No global_config config")
	assert.Contains(t, out, "⚠ No project_config config")
	assert.Contains(t, out, "✅ All critical checks passed!")
}

func TestDoctorValidConfigs(t *testing.T) {
	globalPath := filepath.Join("/home/testuser", ".config", "timelens", "config.yaml")
	projectPath := filepath.Join("/home/testuser/project", ".timelens.yaml")

	mockUtils := &mockFsUtils{
		executable: "/usr/local/bin/timelens",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/timelens": &mockFileInfo{mode: 0755},
			globalPath:                &mockFileInfo{mode: 0644},
			projectPath:               &mockFileInfo{mode: 0644},
		},
		readFileMap: map[string][]byte{
			globalPath:  []byte("verbose: true\n"),
			projectPath: []byte("http_port: 9000\nlod_thresholds: [\"1us\", \"1ms\"]\n"),
		},
	}

	out, err := captureDoctorOutput(t, mockUtils)
	assert.NoError(t, err)
	assert.Contains(t, out, "✓ global_config config found: "+globalPath)
	assert.Contains(t, out, "✓ project_config config found: "+projectPath)
}

func TestDoctorBrokenYAMLFails(t *testing.T) {
	projectPath := filepath.Join("/home/testuser/project", ".timelens.yaml")

	mockUtils := &mockFsUtils{
		executable: "/usr/local/bin/timelens",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/timelens": &mockFileInfo{mode: 0755},
			projectPath:               &mockFileInfo{mode: 0644},
		},
		readFileMap: map[string][]byte{
			projectPath: []byte("lod_thresholds: [unclosed\n"),
		},
		statErr: os.ErrNotExist,
	}

	out, err := captureDoctorOutput(t, mockUtils)
	assert.Error(t, err)
	assert.Contains(t, out, "✗ project_config config is not valid YAML")
	assert.Contains(t, out, "❌ Found 1 issue(s) that need attention")
}

func TestDoctorNonExecutableBinaryFails(t *testing.T) {
	mockUtils := &mockFsUtils{
		executable: "/usr/local/bin/timelens",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/timelens": &mockFileInfo{mode: 0644},
		},
		statErr: os.ErrNotExist,
	}

	out, err := captureDoctorOutput(t, mockUtils)
	assert.Error(t, err)
	assert.Contains(t, out, "✗ Binary is not executable")
}

// mockFileInfo implements os.FileInfo for testing purposes
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     interface{}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return m.sys }
