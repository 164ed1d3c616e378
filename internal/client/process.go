package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/apluslms/static-file-host/internal/transfersdk"
)

// ProcessFileName sits in the site root. Hidden, so it never enters the manifest.
const ProcessFileName = ".sfh-process.json"

var ErrNoProcess = errors.New("no pending upload, run upload first")

// Process links an upload run to the publish run that finalizes it.
type Process struct {
	ProcessID  string    `json:"process_id"`
	IndexMtime int64     `json:"index_mtime"`
	Collection string    `json:"collection"`
	ServerURL  string    `json:"server_url"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *Process) Ref() transfersdk.SessionRef {
	return transfersdk.SessionRef{ProcessID: p.ProcessID, IndexMtime: p.IndexMtime}
}

func processPath(root string) string {
	return filepath.Join(root, ProcessFileName)
}

func saveProcess(root string, p *Process) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := processPath(root) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write process file: %w", err)
	}
	return os.Rename(tmp, processPath(root))
}

func loadProcess(root string) (*Process, error) {
	data, err := os.ReadFile(processPath(root))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProcess
	}
	if err != nil {
		return nil, fmt.Errorf("read process file: %w", err)
	}
	var p Process
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse process file: %w", err)
	}
	if p.ProcessID == "" {
		return nil, fmt.Errorf("process file %s has no process id", processPath(root))
	}
	return &p, nil
}

func removeProcess(root string) error {
	if err := os.Remove(processPath(root)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
