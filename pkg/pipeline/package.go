package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/state"
)

const dirPerm = 0o755

// PackageStage writes the approved code out as a timestamped Python module
// plus a standalone copy. It always routes to the terminal marker: by the
// time packaging runs the code has executed and passed review, so even a
// filesystem fault ends the run rather than burning another retry.
type PackageStage struct {
	outputDir string
	now       func() time.Time
	recorder  *metrics.Recorder
	logger    *logx.Logger
}

// NewPackageStage wires a packaging stage rooted at outputDir.
func NewPackageStage(outputDir string) *PackageStage {
	return &PackageStage{
		outputDir: outputDir,
		now:       time.Now,
		recorder:  metrics.Default(),
		logger:    logx.NewLogger("package"),
	}
}

// Name implements Stage.
func (p *PackageStage) Name() StageName { return StagePackage }

// Run implements Stage.
func (p *PackageStage) Run(_ context.Context, s state.PipelineState) state.Delta {
	stamp := p.now().Format("20060102_150405")
	moduleDir := filepath.Join(p.outputDir, "generated_module_"+stamp)
	standalone := filepath.Join(p.outputDir, fmt.Sprintf("code_generated_%s.py", stamp))

	info, err := p.write(s, moduleDir, standalone, stamp)
	if err != nil {
		p.logger.Error("packaging failed: %v", err)
		p.recorder.ObserveStage(string(StagePackage), false)
		return state.Delta{
			state.FieldPackageInfo: map[string]any{state.KeyError: err.Error()},
			state.FieldNext:        string(StageEnd),
		}
	}

	p.logger.Info("packaged module at %s", moduleDir)
	p.recorder.ObserveStage(string(StagePackage), true)
	return state.Delta{
		state.FieldPackageInfo: info,
		state.FieldNext:        string(StageEnd),
	}
}

func (p *PackageStage) write(s state.PipelineState, moduleDir, standalone, stamp string) (map[string]any, error) {
	if err := os.MkdirAll(moduleDir, dirPerm); err != nil {
		return nil, fmt.Errorf("create module dir: %w", err)
	}

	code := s.Code + "\n"
	files := map[string]string{
		standalone: code,
		filepath.Join(moduleDir, "generated.py"): code,
		filepath.Join(moduleDir, "__init__.py"):  "from .generated import *\n",
		filepath.Join(moduleDir, "README.md"):    p.readme(s, stamp),
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}

	return map[string]any{
		state.KeyModulePath:     moduleDir,
		state.KeyStandaloneFile: standalone,
		state.KeyPackagedAt:     stamp,
	}, nil
}

func (p *PackageStage) readme(s state.PipelineState, stamp string) string {
	return fmt.Sprintf(`# Generated Module

Generated at %s after %d attempt(s).

## Requirement

%s

## Usage

Import from `+"`generated.py`"+` or run the standalone copy directly.
`, stamp, s.Attempts, requirement(s))
}
