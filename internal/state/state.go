// Package state owns the persisted JSON state document (spec.md §6):
// the orchestrator slot and the team roster. Writes are atomic
// (write-to-temp, rename) and additionally serialized across processes
// by an advisory file lock, so a concurrent reader (e.g. `agentmux
// status`/`doctor`) never observes a torn write.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/registry"
)

// Orchestrator mirrors the "orchestrator" slot of the state document.
type Orchestrator struct {
	SessionID string          `json:"sessionId"`
	Status    registry.Status `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Member mirrors one entry of a team's "members" array. WorkingStatus
// is outside the Agent Session Orchestrator's concerns (it is set by
// collaborators described as out of scope in spec.md §1) but is part
// of the persisted document's shape and must round-trip unmodified.
type Member struct {
	ID            string          `json:"id"`
	SessionName   string          `json:"sessionName"`
	Role          string          `json:"role"`
	AgentStatus   registry.Status `json:"agentStatus"`
	WorkingStatus string          `json:"workingStatus"`
	ReadyAt       *time.Time      `json:"readyAt,omitempty"`
}

// Team mirrors one entry of the top-level "teams" array.
type Team struct {
	ID      string   `json:"id"`
	Members []Member `json:"members"`
}

// Document is the full persisted state document.
type Document struct {
	Orchestrator Orchestrator `json:"orchestrator"`
	Teams        []Team       `json:"teams"`
}

// Store reads and atomically writes one [Document] at a fixed path.
type Store struct {
	path string
	fs   fsys.FS
}

// New returns a Store backed by path, using fs for all I/O (pass
// [fsys.OSFS]{} in production, [fsys.Fake] in tests).
func New(path string, fs fsys.FS) *Store {
	return &Store{path: path, fs: fs}
}

var _ registry.Mirror = (*Store)(nil)

// Load reads the document at path. A missing file is not an error: it
// yields an empty Document, matching a project that has never started.
func (s *Store) Load() (*Document, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", s.path, err)
	}
	return &doc, nil
}

// Save writes doc to path atomically: marshal, write to a sibling temp
// file, then rename over the destination. An advisory flock on
// "<path>.lock" guards the whole read-modify-write window against other
// processes (e.g. `agentmux doctor`) doing the same.
func (s *Store) Save(doc *Document) error {
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("state: acquiring lock: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // best-effort unlock on a process-local advisory lock

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshaling document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: creating %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(s.path), os.Getpid())+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: renaming into place: %w", err)
	}
	return nil
}

// UpdateOrchestratorStatus implements [registry.Mirror]: it loads the
// current document, updates (or creates) the orchestrator slot's
// sessionId/status/updatedAt, and saves. createdAt is set once, on
// first observation of the slot. sessionId is always set to
// sessionName, the orchestrator's well-known session name, matching
// spec.md §6's requirement that the orchestrator slot carry
// sessionId = "<orchestrator session name>".
func (s *Store) UpdateOrchestratorStatus(sessionName string, status registry.Status, at time.Time) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	if doc.Orchestrator.CreatedAt.IsZero() {
		doc.Orchestrator.CreatedAt = at
	}
	doc.Orchestrator.SessionID = sessionName
	doc.Orchestrator.Status = status
	doc.Orchestrator.UpdatedAt = at
	return s.Save(doc)
}

// UpsertMember writes member's entry into teamID's roster, creating the
// team entry if absent, and persists the document. Used by the Workflow
// Engine and Registry-adjacent callbacks to keep the mirror current for
// team members (spec.md §6 invariant: every member has agentStatus).
func (s *Store) UpsertMember(teamID string, member Member) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	for i := range doc.Teams {
		if doc.Teams[i].ID != teamID {
			continue
		}
		for j := range doc.Teams[i].Members {
			if doc.Teams[i].Members[j].ID == member.ID {
				doc.Teams[i].Members[j] = member
				return s.Save(doc)
			}
		}
		doc.Teams[i].Members = append(doc.Teams[i].Members, member)
		return s.Save(doc)
	}
	doc.Teams = append(doc.Teams, Team{ID: teamID, Members: []Member{member}})
	return s.Save(doc)
}
