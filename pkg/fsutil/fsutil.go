// Package fsutil writes result files with an optional fixed ownership, so
// that results produced by a root process stay readable by the invoking user.
package fsutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Owner is a numeric UID/GID pair applied to written files.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses a "UID:GID" string. An empty string yields nil, which
// leaves ownership untouched.
func ParseOwner(owner string) (*Owner, error) {
	if owner == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(owner, ":")
	if !ok {
		return nil, fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil || uid < 0 {
		return nil, fmt.Errorf("invalid UID %q", uidStr)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil || gid < 0 {
		return nil, fmt.Errorf("invalid GID %q", gidStr)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

func (o *Owner) String() string {
	if o == nil {
		return ""
	}

	return fmt.Sprintf("%d:%d", o.UID, o.GID)
}

// Chown sets ownership if owner is not nil. Best-effort, ignores errors.
func Chown(path string, owner *Owner) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// MkdirAll creates the directory and sets ownership on the leaf.
func MkdirAll(path string, perm os.FileMode, owner *Owner) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// WriteFile writes the file and sets ownership.
func WriteFile(path string, data []byte, perm os.FileMode, owner *Owner) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}
