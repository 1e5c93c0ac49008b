package compression

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
)

// ArchiveDependencyChecker ...
type ArchiveDependencyChecker interface {
	CheckDependencies() bool
}

// DependencyChecker ...
type DependencyChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) *DependencyChecker {
	return &DependencyChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies reports whether a tar binary with gzip support is on the PATH.
func (dc *DependencyChecker) CheckDependencies() bool {
	return dc.checkDependency("tar") && dc.checkDependency("gzip")
}

func (dc *DependencyChecker) checkDependency(binaryName string) bool {
	cmdFactory := command.NewFactory(dc.envRepo)
	cmd := cmdFactory.Create("which", []string{binaryName}, nil)
	dc.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver packs a source folder into a .tar.gz archive for upload.
type Archiver struct {
	logger                   log.Logger
	envRepo                  env.Repository
	archiveDependencyChecker ArchiveDependencyChecker
}

// NewArchiver ...
func NewArchiver(logger log.Logger, envRepo env.Repository, archiveDependencyChecker ArchiveDependencyChecker) *Archiver {
	return &Archiver{
		logger:                   logger,
		envRepo:                  envRepo,
		archiveDependencyChecker: archiveDependencyChecker,
	}
}

// Compress archives the content of sourceDir into archivePath. Entry names are relative to
// sourceDir. Paths matching one of the excludes (doublestar globs, relative to sourceDir) are
// left out; an excluded directory is left out with everything below it.
func (a *Archiver) Compress(archivePath, sourceDir string, excludes []string) error {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	entries, err := collectEntries(archivePath, sourceDir, excludes)
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}
	a.logger.Debugf("Archiving %d entries of %s", len(entries), sourceDir)

	if !a.archiveDependencyChecker.CheckDependencies() {
		a.logger.Infof("Falling back to native implementation of tar and gzip.")
		if err := a.compressWithGoLib(archivePath, sourceDir, entries); err != nil {
			return fmt.Errorf("compress files: %w", err)
		}
		return nil
	}

	a.logger.Infof("Using installed tar binary")
	if err := a.compressWithBinary(archivePath, sourceDir, entries); err != nil {
		return fmt.Errorf("compress files: %w", err)
	}
	return nil
}

// collectEntries returns the slash separated paths, relative to sourceDir, of every file,
// symlink and directory to archive, in walk order.
func collectEntries(archivePath, sourceDir string, excludes []string) ([]string, error) {
	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, err
	}

	var entries []string
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if abs, err := filepath.Abs(path); err == nil && abs == absArchive {
			return nil
		}

		for _, pattern := range excludes {
			if matched, _ := doublestar.Match(pattern, rel); matched {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *Archiver) compressWithGoLib(archivePath, sourceDir string, entries []string) (err error) {
	fileToWrite, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if closeErr := fileToWrite.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", closeErr)
		}
	}()

	gzipWriter := gzip.NewWriter(fileToWrite)
	tw := tar.NewWriter(gzipWriter)

	for _, entry := range entries {
		if err := addEntry(tw, sourceDir, entry); err != nil {
			return err
		}
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce gzip
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, sourceDir, entry string) error {
	file := filepath.Join(sourceDir, filepath.FromSlash(entry))
	fi, err := os.Lstat(file)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(file); err != nil {
			return fmt.Errorf("read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}
	header.Name = entry
	if fi.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	// nothing more to do for non-regular files or directories
	if !fi.Mode().IsRegular() {
		return nil
	}

	data, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(tw, data); err != nil {
		_ = data.Close()
		return fmt.Errorf("copy to archive: %w", err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func (a *Archiver) compressWithBinary(archivePath, sourceDir string, entries []string) error {
	listFile, err := os.CreateTemp("", "aip-console-archive-list")
	if err != nil {
		return fmt.Errorf("create file list: %w", err)
	}
	defer func() {
		if err := os.Remove(listFile.Name()); err != nil {
			a.logger.Warnf("Failed to remove %s: %s", listFile.Name(), err)
		}
	}()
	if _, err := listFile.WriteString(strings.Join(entries, "\n")); err != nil {
		_ = listFile.Close()
		return fmt.Errorf("write file list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("close file list: %w", err)
	}

	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}

	/*
		tar arguments:
		-c -z: Create a gzip compressed archive
		-f: Output file
		-C: Entries are relative to the source directory
		--no-recursion -T: Archive exactly the listed entries (GNU and BSD tar)
	*/
	tarArgs := []string{
		"-c", "-z",
		"-f", absArchive,
		"-C", sourceDir,
		"--no-recursion",
		"-T", listFile.Name(),
	}

	cmdFactory := command.NewFactory(a.envRepo)
	cmd := cmdFactory.Create("tar", tarArgs, nil)
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return nil
}

// IsDirEmpty checks if path is a nonexistent file or an empty directory.
func IsDirEmpty(path string) bool {
	fileInfo, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil || !fileInfo.IsDir() {
		return false
	}

	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close() //nolint:errcheck

	_, err = file.Readdirnames(1) // query only 1 child
	return errors.Is(err, io.EOF)
}
