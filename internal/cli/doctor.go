package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks to verify timelens is properly configured.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify timelens is properly configured.

This command checks:
  - Binary location and permissions
  - Global and project config files (YAML syntax)
  - The detail-level threshold ladder
  - Duration settings (min_view_width, refresh_interval)

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(version)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
}

type realFsUtils struct{}

func (r *realFsUtils) Executable() (string, error)           { return os.Executable() }
func (r *realFsUtils) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (r *realFsUtils) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (r *realFsUtils) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (r *realFsUtils) Getwd() (string, error)                { return os.Getwd() }

func runDoctor(version string) error {
	return runDoctorWithUtils(version, &realFsUtils{})
}

func runDoctorWithUtils(version string, utils fsUtils) error {
	fmt.Printf("🔍 timelens doctor v%s\n\n", version)

	checks := []func(utils fsUtils) checkResult{
		checkBinaryLocation,
		checkBinaryExecutable,
		checkGlobalConfig,
		checkProjectConfig,
		checkEffectiveSettings,
	}

	results := make([]checkResult, 0, len(checks))
	for _, check := range checks {
		result := check(utils)
		results = append(results, result)
		printCheckResult(result)
	}

	fmt.Println()
	summary := summarizeResults(results)
	printSummary(summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Printf("%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Printf("  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Printf("❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Printf("⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Printf("✅ All critical checks passed!\n")
		fmt.Printf("⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Printf("💡 Run 'timelens serve --verbose' to start the server\n")
	} else {
		fmt.Printf("✅ All checks passed!\n")
		fmt.Printf("💡 Run 'timelens serve --verbose' to start the server\n")
	}
}

// Check 1: Binary location
func checkBinaryLocation(utils fsUtils) checkResult {
	executable, err := utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	return checkResult{
		Name:    "binary_location",
		Status:  "pass",
		Message: fmt.Sprintf("Binary location: %s", absPath),
	}
}

// Check 2: Binary executable
func checkBinaryExecutable(utils fsUtils) checkResult {
	executable, err := utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not check if binary is executable",
			IsCritical: true,
		}
	}

	info, err := utils.Stat(executable)
	if err != nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not stat binary",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	if info.Mode()&0111 == 0 {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Binary is not executable",
			Suggestion: fmt.Sprintf("Run: chmod +x %s", executable),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "binary_executable",
		Status:  "pass",
		Message: "Binary is executable",
	}
}

// checkYAMLConfig validates one config file: readable and parseable.
func checkYAMLConfig(utils fsUtils, name, path string) checkResult {
	if path == "" {
		return checkResult{
			Name:    name,
			Status:  "warn",
			Message: fmt.Sprintf("No %s config path available", name),
		}
	}

	if _, err := utils.Stat(path); os.IsNotExist(err) {
		return checkResult{
			Name:       name,
			Status:     "warn",
			Message:    fmt.Sprintf("No %s config: %s", name, path),
			Suggestion: "Optional; defaults apply",
		}
	}

	data, err := utils.ReadFile(path)
	if err != nil {
		return checkResult{
			Name:       name,
			Status:     "fail",
			Message:    fmt.Sprintf("Could not read %s config", name),
			Suggestion: fmt.Sprintf("Error reading %s: %v", path, err),
			IsCritical: true,
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return checkResult{
			Name:       name,
			Status:     "fail",
			Message:    fmt.Sprintf("%s config is not valid YAML", name),
			Suggestion: fmt.Sprintf("Error parsing %s: %v", path, err),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%s config found: %s", name, path),
	}
}

// Check 3: Global config
func checkGlobalConfig(utils fsUtils) checkResult {
	home, err := utils.UserHomeDir()
	if err != nil {
		return checkResult{
			Name:    "global_config",
			Status:  "warn",
			Message: "Could not determine home directory",
		}
	}
	path := filepath.Join(home, ".config", "timelens", "config.yaml")
	return checkYAMLConfig(utils, "global_config", path)
}

// Check 4: Project config
func checkProjectConfig(utils fsUtils) checkResult {
	cwd, err := utils.Getwd()
	if err != nil {
		return checkResult{
			Name:    "project_config",
			Status:  "warn",
			Message: "Could not determine working directory",
		}
	}
	path := filepath.Join(cwd, ".timelens.yaml")
	return checkYAMLConfig(utils, "project_config", path)
}

// Check 5: Effective settings parse and validate
func checkEffectiveSettings(utils fsUtils) checkResult {
	cfg, err := LoadEffectiveConfig("")
	if err != nil {
		return checkResult{
			Name:       "effective_settings",
			Status:     "fail",
			Message:    "Could not load effective configuration",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	table, err := cfg.BuildLodTable()
	if err != nil {
		return checkResult{
			Name:       "effective_settings",
			Status:     "fail",
			Message:    "Detail-level thresholds are invalid",
			Suggestion: fmt.Sprintf("Error: %v\n  Thresholds must be ascending durations, e.g. [\"10ns\", \"1us\", \"100us\", \"10ms\", \"1s\"]", err),
			IsCritical: true,
		}
	}

	if _, err := cfg.MinViewWidthNanos(); err != nil {
		return checkResult{
			Name:       "effective_settings",
			Status:     "fail",
			Message:    "min_view_width is invalid",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	if _, err := cfg.RefreshIntervalDuration(); err != nil {
		return checkResult{
			Name:       "effective_settings",
			Status:     "fail",
			Message:    "refresh_interval is invalid",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "effective_settings",
		Status:  "pass",
		Message: fmt.Sprintf("Effective settings valid: %d detail levels, %dpx viewport", table.Levels(), cfg.WidthPx),
	}
}
