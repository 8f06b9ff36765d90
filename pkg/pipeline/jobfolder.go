package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const stampLayout = "20060102_150405"

// JobFolder is the on-disk home of one processed image:
//
//	<root>/input.<ext>
//	<root>/result.jpg
//	<root>/crops/*.jpg
//	<root>/metadata.json
type JobFolder struct {
	Root string
}

// Stem is the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FolderName is <stem>_<YYYYMMDD>_<HHMMSS>.
func FolderName(stem string, at time.Time) string {
	return stem + "_" + at.Format(stampLayout)
}

// NewJobFolder creates <parent>/<stem>_<stamp> and its crops directory.
func NewJobFolder(parent, stem string, at time.Time) (JobFolder, error) {
	jf := JobFolder{Root: filepath.Join(parent, FolderName(stem, at))}
	if err := os.MkdirAll(jf.CropsDir(), 0o755); err != nil {
		return JobFolder{}, fmt.Errorf("create job folder: %w", err)
	}
	return jf, nil
}

func (j JobFolder) CropsDir() string     { return filepath.Join(j.Root, "crops") }
func (j JobFolder) ResultPath() string   { return filepath.Join(j.Root, "result.jpg") }
func (j JobFolder) MetadataPath() string { return filepath.Join(j.Root, "metadata.json") }

// InputPath is input.<ext> with the extension of the source photo.
func (j JobFolder) InputPath(src string) string {
	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".jpg"
	}
	return filepath.Join(j.Root, "input"+ext)
}

// CopyInput copies the source photo into the folder and returns its path.
func (j JobFolder) CopyInput(src string) (string, error) {
	dst := j.InputPath(src)
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	return dst, out.Close()
}

// Rel returns path relative to the folder root, in slash form.
func (j JobFolder) Rel(path string) string {
	if r, err := filepath.Rel(j.Root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}
