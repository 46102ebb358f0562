package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Fr3nn3r/ada-harness/internal/alerts"
	"github.com/Fr3nn3r/ada-harness/internal/backlog"
	"github.com/Fr3nn3r/ada-harness/internal/checkpoint"
	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
	"github.com/Fr3nn3r/ada-harness/internal/harnessconfig"
	"github.com/Fr3nn3r/ada-harness/internal/progresslog"
	"github.com/Fr3nn3r/ada-harness/internal/sessionlog"
	"github.com/Fr3nn3r/ada-harness/internal/vcsadapter"
)

// adaDir is the harness-owned state directory at the project root,
// grounded on original_source/workspace.py's documented .ada/ layout.
const adaDir = ".ada"

// workspace bundles every persisted store rooted at one project.
type workspace struct {
	root string
	cfg  *harnessconfig.HarnessConfig

	backlog    *backlog.Store
	progress   *progresslog.Log
	sessions   *sessionlog.Logger
	checkpoint *checkpoint.Store
	alerts     *alerts.Store
	bus        *eventbus.Bus
	vcs        vcsadapter.Adapter
}

// projectContext is the persisted project identity the initializer
// session stamps once, grounded on
// original_source/workspace.py::ProjectContext.
type projectContext struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty"`
	InitModel    string    `json:"init_model,omitempty"`
	SpecFile     string    `json:"spec_file,omitempty"`
}

func openWorkspace(root string) (*workspace, error) {
	dir := filepath.Join(root, adaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: mkdir %s: %w", dir, err)
	}

	cfg, err := harnessconfig.Load(filepath.Join(root, "ada.config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("workspace: config: %w", err)
	}
	if err := snapshotConfig(dir, cfg); err != nil {
		return nil, err
	}

	bs := backlog.New(filepath.Join(root, cfg.BacklogFile))
	prog := progresslog.New(
		filepath.Join(root, cfg.ProgressFile),
		filepath.Join(dir, "logs", "archive"),
		int64(cfg.ProgressRotationThresholdKB)*1024,
	)
	sess, err := sessionlog.New(filepath.Join(dir, "logs", "sessions"), filepath.Join(dir, "logs", "archive"), 100*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("workspace: sessionlog: %w", err)
	}
	cp := checkpoint.New(filepath.Join(dir, "state", "session.json"))
	al, err := alerts.New(filepath.Join(dir, "alerts.json"))
	if err != nil {
		return nil, fmt.Errorf("workspace: alerts: %w", err)
	}
	bus := eventbus.New(0)
	vcs, err := vcsadapter.New(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: vcs: %w", err)
	}
	al.Watch(bus)

	return &workspace{
		root: root, cfg: cfg,
		backlog: bs, progress: prog, sessions: sess, checkpoint: cp, alerts: al, bus: bus, vcs: vcs,
	}, nil
}

func snapshotConfig(adaPath string, cfg *harnessconfig.HarnessConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal config snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(adaPath, "config.json"), data, 0o644)
}

func loadProjectContext(root string) (*projectContext, error) {
	data, err := os.ReadFile(filepath.Join(root, adaDir, "project.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pc projectContext
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

func saveProjectContext(root string, pc *projectContext) error {
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, adaDir, "project.json"), data, 0o644)
}
