package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"github.com/ethpandaops/indexoor/pkg/fsutil"
)

// File names inside a session directory.
const (
	SessionFile = "session.json"
	ReportFile  = "report.json"
	SummaryFile = "summary.md"
)

// DefaultMarkdownMaxChars caps summary.md, which is sized for a GitHub step
// summary or PR comment.
const DefaultMarkdownMaxChars = 60000

// SessionDirName returns the directory name for a session:
// <start timestamp>_<first 8 chars of the id>.
func SessionDirName(session *benchmark.Session) string {
	short := session.ID
	if len(short) > 8 {
		short = short[:8]
	}

	return fmt.Sprintf("%s_%s", session.StartedAt.UTC().Format("20060102T150405Z"), short)
}

// WriteSessionDir writes session.json, report.json and summary.md into a new
// directory under resultsDir and returns its path. A nil owner leaves file
// ownership to the process.
func WriteSessionDir(
	resultsDir string,
	session *benchmark.Session,
	rep *Report,
	owner *fsutil.Owner,
) (string, error) {
	dir := filepath.Join(resultsDir, SessionDirName(session))

	if err := fsutil.MkdirAll(dir, 0755, owner); err != nil {
		return "", fmt.Errorf("creating session dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, SessionFile), session, owner); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(dir, ReportFile), rep, owner); err != nil {
		return "", err
	}

	md := GenerateMarkdown(session, rep, DefaultMarkdownMaxChars)
	if err := fsutil.WriteFile(filepath.Join(dir, SummaryFile), []byte(md), 0644, owner); err != nil {
		return "", fmt.Errorf("writing %s: %w", SummaryFile, err)
	}

	return dir, nil
}

// LoadSession reads session.json from a session directory.
func LoadSession(dir string) (*benchmark.Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, SessionFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", SessionFile, err)
	}

	var session benchmark.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", SessionFile, err)
	}

	return &session, nil
}

func writeJSON(path string, v any, owner *fsutil.Owner) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}

	if err := fsutil.WriteFile(path, data, 0644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}

	return nil
}
