package internal

import (
	"os"
)

// OsProxy is the file system access of the source resolver.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	RemoveAll(path string) error
}

// RealOS delegates to the os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }      //nolint:revive
func (RealOS) RemoveAll(path string) error           { return os.RemoveAll(path) } //nolint:revive
