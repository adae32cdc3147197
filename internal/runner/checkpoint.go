package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chorusrt/chorus/internal/agentprocess"
	_ "modernc.org/sqlite"
)

// AgentCheckpoint is one agent's entry in a Checkpoint, matching the
// persisted-state schema of spec §6.4.
type AgentCheckpoint struct {
	ClassIdentifier string          `json:"class_identifier"`
	InstanceName    string          `json:"instance_name"`
	ID              string          `json:"id"`
	InitArgs        json.RawMessage `json:"init_args,omitempty"`
	InitKwargs      json.RawMessage `json:"init_kwargs,omitempty"`
	StateSnapshot   json.RawMessage `json:"state_snapshot,omitempty"`
}

// Checkpoint is the structured blob save_checkpoint produces and
// load_checkpoint consumes, symmetrically (spec §6.4, Testable
// Property 6).
type Checkpoint struct {
	WorkspaceName string            `json:"workspace_name"`
	Agents        []AgentCheckpoint `json:"agents"`
}

// CheckpointStore persists Checkpoint blobs to a local sqlite file
// (spec SPEC_FULL.md decision: the runner's checkpoint store, grounded
// on the teacher's sqlite-backed event store but narrowed to the
// single-blob checkpoint schema rather than a full event log).
type CheckpointStore struct {
	db *sql.DB
}

// OpenCheckpointStore opens (creating if needed) a sqlite database at
// path holding one row per workspace's latest checkpoint.
func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("runner: creating checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runner: opening checkpoint store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runner: enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runner: setting busy timeout: %w", err)
	}

	store := &CheckpointStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *CheckpointStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			workspace_name TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Save writes cp, replacing any prior checkpoint for its workspace
// (spec §6.4: "no partial/incremental persistence").
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("runner: marshaling checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (workspace_name, data, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workspace_name) DO UPDATE SET data = excluded.data, saved_at = CURRENT_TIMESTAMP
	`, cp.WorkspaceName, string(data))
	return err
}

// Load retrieves the most recent checkpoint saved for workspaceName.
func (s *CheckpointStore) Load(ctx context.Context, workspaceName string) (Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE workspace_name = ?`, workspaceName).Scan(&data)
	if err == sql.ErrNoRows {
		return Checkpoint{}, fmt.Errorf("runner: no checkpoint saved for workspace %q", workspaceName)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("runner: loading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("runner: decoding checkpoint: %w", err)
	}
	return cp, nil
}

// Close releases the underlying database handle.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// SaveCheckpoint snapshots every managed agent's init args and last
// observed state into a Checkpoint (spec §4.8 "save_checkpoint()").
func (rn *Runner) SaveCheckpoint(workspaceName string) Checkpoint {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	cp := Checkpoint{WorkspaceName: workspaceName}
	for _, a := range rn.agents {
		s := a.spec.Spec
		var snapshot json.RawMessage
		if reg := rn.router.Registry().Get(s.AgentID); reg != nil {
			if data := reg.StateSnapshot(); data != nil {
				snapshot = data
			}
		}
		cp.Agents = append(cp.Agents, AgentCheckpoint{
			ClassIdentifier: s.ClassIdentifier,
			InstanceName:    s.InstanceName,
			ID:              s.AgentID,
			InitArgs:        s.InitArgs,
			InitKwargs:      s.InitKwargs,
			StateSnapshot:   snapshot,
		})
	}
	return cp
}

// LoadCheckpoint reconstructs AgentSpecs from cp, ready to Add and
// Start (spec §4.8, §6.4 "loading is symmetric").
func LoadCheckpoint(cp Checkpoint) []AgentSpec {
	specs := make([]AgentSpec, 0, len(cp.Agents))
	for _, a := range cp.Agents {
		specs = append(specs, AgentSpec{
			Spec: agentprocess.Spec{
				ClassIdentifier: a.ClassIdentifier,
				InstanceName:    a.InstanceName,
				AgentID:         a.ID,
				InitArgs:        a.InitArgs,
				InitKwargs:      a.InitKwargs,
				StateSnapshot:   a.StateSnapshot,
			},
		})
	}
	return specs
}
