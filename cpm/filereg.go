package cpm

import (
	"log/slog"
	"os"
	"sort"
)

// File flags tracked by the registry.
const (
	// FlagRoDisk marks a file opened on a read-only drive.
	FlagRoDisk = 0x1

	// FlagRoFile marks a file which could only be opened read-only.
	FlagRoFile = 0x2

	// FlagWritten marks a file the guest has written to.
	FlagWritten = 0x4
)

// FileEntry owns one open host file on behalf of a guest FCB.
type FileEntry struct {
	// ID is the registry key stamped into the FCB.
	ID uint16

	// Path is the absolute host path, for diagnostics.
	Path string

	// File is the open host file.
	File *os.File

	// Flags carries the RoDisk/RoFile/Written bits.
	Flags int
}

// FileRegistry maps FCB-embedded IDs to open host files.
//
// IDs are drawn from a monotonically increasing counter which wraps at
// 65535, skipping zero and IDs still in use.
type FileRegistry struct {
	entries map[uint16]*FileEntry
	nextID  uint16
	logger  *slog.Logger
}

// NewFileRegistry returns an empty registry.
func NewFileRegistry(logger *slog.Logger) *FileRegistry {
	return &FileRegistry{
		entries: make(map[uint16]*FileEntry),
		nextID:  1,
		logger:  logger,
	}
}

// Add installs an open file and returns its entry; ok is false when
// every possible ID is taken.
func (r *FileRegistry) Add(path string, file *os.File, flags int) (*FileEntry, bool) {

	start := r.nextID
	id := r.nextID
	for {
		if _, used := r.entries[id]; !used {
			break
		}
		id = r.bump(id)
		if id == start {
			return nil, false
		}
	}
	r.nextID = r.bump(id)

	e := &FileEntry{
		ID:    id,
		Path:  path,
		File:  file,
		Flags: flags,
	}
	r.entries[id] = e
	return e, true
}

// bump advances an ID, wrapping at 65535 and skipping zero.
func (r *FileRegistry) bump(id uint16) uint16 {
	id++
	if id == 0 {
		id = 1
	}
	return id
}

// Get returns the entry for an ID, or nil.
func (r *FileRegistry) Get(id uint16) *FileEntry {
	return r.entries[id]
}

// Remove drops an entry without closing its file.
func (r *FileRegistry) Remove(id uint16) {
	delete(r.entries, id)
}

// Len returns the number of live entries.
func (r *FileRegistry) Len() int {
	return len(r.entries)
}

// CloseAll closes every still-open file, warning about files the guest
// wrote to but never closed.
func (r *FileRegistry) CloseAll() {
	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		e := r.entries[uint16(id)]
		if e.Flags&FlagWritten != 0 && r.logger != nil {
			r.logger.Warn("output file not explicitly closed by program",
				slog.String("path", e.Path))
		}
		err := e.File.Close()
		if err != nil && r.logger != nil {
			r.logger.Error("cannot close file",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
		}
		delete(r.entries, uint16(id))
	}
}
