package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cesargomez89/inkqueue/internal/constants"
)

// Sanitize strips characters that are invalid in directory names.
func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) || r < 0x20 {
			return -1
		}
		return r
	}, s)

	return strings.TrimRight(strings.TrimSpace(mapped), ". ")
}

var unsafeFilenameChars = regexp.MustCompile(`[\x00-\x1f\\/:*?"<>|]`)

// SanitizeFilename replaces unsafe characters with "-" and never returns an
// empty or hidden name.
func SanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".-")
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "untitled"
	}
	return name
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

// MoveFile renames src to dst, creating dst's directory first.
func MoveFile(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

func CreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, constants.FilePermissions)
}

// WriteFile writes through a temporary sibling so a crash never leaves a
// half-written file under the final name.
func WriteFile(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, constants.FilePermissions); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func DeleteFolderIfEmpty(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return os.Remove(dirPath)
	}
	return nil
}

func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
