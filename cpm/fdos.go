// The FDOS: the BDOS functions that operate on files through FCBs.
//
// CP/M drives map to host directories; filenames fold to lower case on
// the way out and to upper case on the way in.  Open files are tracked
// in the FileRegistry, keyed by the 16-bit ID stamped into FCB bytes
// 16..19 together with its XOR check word.

package cpm

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cpmrun/cpmrun/fcb"
	"github.com/cpmrun/cpmrun/memory"
	"github.com/cpmrun/cpmrun/xlog"
)

// blkSize is the size of a CP/M record.
const blkSize = 128

// maxFileSize is the largest host file the emulator will show to a
// guest: CP/M addresses at most 8MB per file.
const maxFileSize = 8 * 1024 * 1024

// searchEntry is one remembered result of Search First.
type searchEntry struct {
	name    string
	records int64 // size in CP/M records
}

// getFcb fetches and validates the FCB address in DE, returning -1
// after terminating when the structure would not fit in memory.
func (cpm *CPM) getFcb(size int, caller string) int {
	addr := int(cpm.CPU.DE())
	if memory.Size-addr < size {
		cpm.Logger.Error(caller+": invalid FCB address",
			slog.String("fcb", hexAddr(uint16(addr))))
		cpm.terminate(ErrBdosArg)
		return -1
	}
	if cpm.level >= xlog.Fcbs {
		cpm.Logger.Log(context.Background(), xlog.Fcbs.Slog(), "FCB dump",
			slog.String("fcb", hexAddr(uint16(addr))),
			slog.String("bytes",
				xlog.HexDump(addr, cpm.Memory.GetRange(uint16(addr), size))))
	}
	return addr
}

// readFcb unmarshals the FCB at the given address.
func (cpm *CPM) readFcb(addr int) fcb.FCB {
	return fcb.FromBytes(cpm.Memory.GetRange(uint16(addr), fcb.Size))
}

// writeFcb marshals an FCB back into guest memory.
func (cpm *CPM) writeFcb(addr int, f fcb.FCB) {
	cpm.Memory.SetRange(uint16(addr), f.AsBytes()...)
}

// resolveDrive maps the FCB drive byte onto a configured drive,
// returning -1 after terminating when the drive is unusable.
func (cpm *CPM) resolveDrive(f *fcb.FCB, caller string) int {
	drive := int(f.Drive)
	if drive == 0 {
		drive = cpm.currentDrive
	} else {
		drive--
	}
	if drive > 15 || cpm.cfg.Drives[drive] == "" {
		cpm.Logger.Error(caller+": illegal/unconfigured drive",
			slog.Int("drive", drive))
		cpm.terminate(ErrSelect)
		return -1
	}
	return drive
}

// hostName extracts the host filename from an FCB, with ok false when
// a name character is invalid.  Wildcards are acceptable here; the
// callers that cannot live with them check separately.
func hostName(f *fcb.FCB) (string, bool) {
	pat := f.Pattern()
	for _, c := range pat {
		if c == ' ' {
			continue
		}
		if !validInName(c) {
			return "", false
		}
	}
	name := f.HostName()
	if name == "" || name[0] == '.' {
		return "", false
	}
	return name, true
}

// validInName reports whether a CP/M character may appear in a
// filename; '?' is included because patterns pass through here.
func validInName(c uint8) bool {
	switch {
	case c == '#' || c == '$' || c == '-' || c == '?' || c == '@':
		return true
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	}
	return false
}

// isAmbiguous reports whether a host name contains the '?' wildcard.
func isAmbiguous(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '?' {
			return true
		}
	}
	return false
}

// fileList enumerates the "nice", regular, small-enough files in a
// drive directory matching the pattern FCB, in directory order.
func (cpm *CPM) fileList(dir string, pattern *fcb.FCB, caller string) []searchEntry {
	var out []searchEntry

	// os.ReadDir would sort by name; reading through the opened
	// directory keeps the order the host returns the entries in.
	var entries []os.DirEntry
	d, err := os.Open(dir)
	if err == nil {
		entries, err = d.ReadDir(-1)
		d.Close()
	}
	if err != nil {
		cpm.Logger.Error(caller+": cannot read directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return nil
	}

	for _, de := range entries {
		name := de.Name()
		if !fcb.IsNice(name) {
			continue
		}
		padded, ok := fcb.FromHostName(name)
		if !ok || !pattern.Matches(padded) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			cpm.Logger.Error(caller+": cannot stat file",
				slog.String("name", name),
				slog.String("error", err.Error()))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if info.Size() > maxFileSize {
			continue
		}
		out = append(out, searchEntry{
			name:    name,
			records: (info.Size() + blkSize - 1) / blkSize,
		})
	}
	return out
}

// fileForFcb resolves the registry entry referenced by an FCB,
// terminating with ErrLogic when the ID protocol was violated.
func (cpm *CPM) fileForFcb(f *fcb.FCB, caller string) *FileEntry {
	id, ok := f.GetID()
	if !ok {
		cpm.Logger.Error(caller + ": invalid file ID in FCB")
		cpm.terminate(ErrLogic)
		return nil
	}
	entry := cpm.Files.Get(id)
	if entry == nil {
		cpm.Logger.Error(caller + ": stale file ID in FCB")
		cpm.terminate(ErrLogic)
		return nil
	}
	return entry
}

// checkWriteable terminates the run when the entry must not be written.
func (cpm *CPM) checkWriteable(entry *FileEntry, caller string) bool {
	if entry.Flags&FlagRoDisk != 0 {
		cpm.Logger.Error(caller+": write protected disk",
			slog.String("path", entry.Path))
		cpm.terminate(ErrRoDisk)
		return false
	}
	if entry.Flags&FlagRoFile != 0 {
		cpm.Logger.Error(caller+": write protected file",
			slog.String("path", entry.Path))
		cpm.terminate(ErrRoFile)
		return false
	}
	return true
}

// SysCallFileOpen implements BDOS 15, Open File.
func SysCallFileOpen(cpm *CPM) {
	const caller = "open file"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(33, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	// EX must be a legal extent number; S2 is cleared on open.
	if f.Ex > 31 {
		cpm.Logger.Error(caller + ": illegal extent number")
		return
	}
	f.S2 = 0

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	flags := 0
	if cpm.readOnly[drive] {
		flags |= FlagRoDisk
	}

	name, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}
	ambiguous := isAmbiguous(name)

	// An ambiguous name opens the first match whose size covers the
	// requested extent.
	if ambiguous {
		found := false
		for _, e := range cpm.fileList(cpm.cfg.Drives[drive], &f, caller) {
			if e.records < int64(f.Ex)*blkSize {
				continue
			}
			name = e.name
			found = true
			break
		}
		if !found {
			return
		}
	}

	path := filepath.Join(cpm.cfg.Drives[drive], name)

	var file *os.File
	var err error
	if flags&FlagRoDisk != 0 {
		file, err = os.Open(path)
	} else {
		file, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil && errors.Is(err, fs.ErrPermission) {
			flags |= FlagRoFile
			file, err = os.Open(path)
		}
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// No such file: report "not found" to the guest.
			return
		}
		cpm.Logger.Error(caller+": could not open",
			slog.String("path", path),
			slog.String("error", err.Error()))
		cpm.terminate(ErrHost)
		return
	}

	// An ambiguous FCB is rewritten with the matched name.
	if ambiguous {
		padded, _ := fcb.FromHostName(name)
		copy(f.Name[:], padded[0:8])
		copy(f.Type[:], padded[8:11])
	}

	entry, ok := cpm.Files.Add(path, file, flags)
	if !ok {
		file.Close()
		cpm.Logger.Error(caller + ": more than 65535 open files")
		cpm.terminate(ErrLogic)
		return
	}
	f.SetID(entry.ID)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallFileClose implements BDOS 16, Close File.
func SysCallFileClose(cpm *CPM) {
	const caller = "close file"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(33, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	entry := cpm.fileForFcb(&f, caller)
	if entry == nil {
		return
	}

	// Some programs continue to use FCBs after a close; the
	// dont-close option supports them by leaving the file open and
	// only clearing its written flag.
	if cpm.cfg.DontClose == 1 {
		entry.Flags &^= FlagWritten
		cpm.setResult(0x00)
		return
	}

	cpm.Files.Remove(entry.ID)
	f.ClearID()
	cpm.writeFcb(addr, f)

	err := entry.File.Close()
	if err != nil {
		cpm.Logger.Error(caller+": close failed",
			slog.String("path", entry.Path),
			slog.String("error", err.Error()))
		cpm.terminate(ErrHost)
		return
	}
	cpm.setResult(0x00)
}

// returnDirEntry pops the head of the search list and synthesizes a
// directory entry in the DMA buffer; the common tail of Search First
// and Search Next.
func (cpm *CPM) returnDirEntry() {
	if len(cpm.searchList) == 0 {
		cpm.setResult(0xFF)
		return
	}
	head := cpm.searchList[0]
	cpm.searchList = cpm.searchList[1:]

	padded, _ := fcb.FromHostName(head.name)

	// A fresh 32-byte entry in the first directory slot; the rest of
	// the DMA buffer reads as empty directory space.
	cpm.Memory.FillRange(cpm.dma, 32, 0x00)
	cpm.Memory.FillRange(cpm.dma+32, 96, 0xE5)
	cpm.Memory.SetRange(cpm.dma+1, padded[:]...)

	cpm.setResult(0x00)
}

// SysCallFindFirst implements BDOS 17, Search For First.
func SysCallFindFirst(cpm *CPM) {
	const caller = "search for first"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(32, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	// A wildcard drive byte means the current drive, since user
	// areas are not supported.
	var drive int
	if f.Drive == '?' {
		drive = cpm.currentDrive
	} else {
		drive = cpm.resolveDrive(&f, caller)
		if drive == -1 {
			return
		}
	}

	if _, ok := hostName(&f); !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}

	cpm.searchList = cpm.fileList(cpm.cfg.Drives[drive], &f, caller)
	cpm.returnDirEntry()
}

// SysCallFindNext implements BDOS 18, Search For Next.
func SysCallFindNext(cpm *CPM) {
	const caller = "search for next"
	cpm.sysEntry(xlog.Fdos, caller)
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.returnDirEntry()
}

// SysCallDeleteFile implements BDOS 19, Delete File: every match of a
// possibly ambiguous pattern is unlinked.
func SysCallDeleteFile(cpm *CPM) {
	const caller = "delete file"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(32, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	if _, ok := hostName(&f); !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}

	matches := cpm.fileList(cpm.cfg.Drives[drive], &f, caller)
	if len(matches) == 0 {
		return
	}

	if cpm.readOnly[drive] {
		cpm.Logger.Error(caller + ": write protected disk")
		cpm.terminate(ErrRoDisk)
		return
	}

	for _, m := range matches {
		path := filepath.Join(cpm.cfg.Drives[drive], m.name)
		err := os.Remove(path)
		if err != nil {
			cpm.Logger.Error(caller+": unlink failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			cpm.terminate(ErrRoFile)
			return
		}
	}
	cpm.setResult(0x00)
}

// readRecord reads one record from the host file into the DMA buffer,
// padding an incomplete tail with SUB; eof is true at end of file.
func (cpm *CPM) readRecord(entry *FileEntry, offset int, caller string) (eof bool, ok bool) {
	buf := make([]byte, blkSize)
	n, err := entry.File.ReadAt(buf, int64(offset)*blkSize)
	if err != nil && err != io.EOF {
		cpm.Logger.Error(caller+": read failed",
			slog.String("path", entry.Path),
			slog.String("error", err.Error()))
		cpm.terminate(ErrHost)
		return false, false
	}
	if n == 0 {
		return true, true
	}
	for i := n; i < blkSize; i++ {
		buf[i] = 0x1A
	}
	cpm.Memory.SetRange(cpm.dma, buf...)
	if cpm.level >= xlog.Records {
		cpm.Logger.Log(context.Background(), xlog.Records.Slog(), "record read",
			slog.String("bytes", xlog.HexDump(int(cpm.dma), buf)))
	}
	return false, true
}

// writeRecord writes one record from the DMA buffer to the host file.
func (cpm *CPM) writeRecord(entry *FileEntry, offset int, caller string) bool {
	buf := cpm.Memory.GetRange(cpm.dma, blkSize)
	_, err := entry.File.WriteAt(buf, int64(offset)*blkSize)
	entry.Flags |= FlagWritten
	if err != nil {
		cpm.Logger.Error(caller+": write failed",
			slog.String("path", entry.Path),
			slog.String("error", err.Error()))
		cpm.terminate(ErrHost)
		return false
	}
	if cpm.level >= xlog.Records {
		cpm.Logger.Log(context.Background(), xlog.Records.Slog(), "record written",
			slog.String("bytes", xlog.HexDump(int(cpm.dma), buf)))
	}
	return true
}

// SysCallRead implements BDOS 20, Read Sequential.
func SysCallRead(cpm *CPM) {
	const caller = "read sequential"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0x01)

	addr := cpm.getFcb(33, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	entry := cpm.fileForFcb(&f, caller)
	if entry == nil {
		return
	}

	offset, ok := f.SeqOffset()
	if !ok || offset == fcb.SeqLimit {
		cpm.setResult(0x06)
		return
	}

	eof, ok := cpm.readRecord(entry, offset, caller)
	if !ok || eof {
		return
	}

	f.SetSeqOffset(offset + 1)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallWrite implements BDOS 21, Write Sequential.
func SysCallWrite(cpm *CPM) {
	const caller = "write sequential"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0x02)

	addr := cpm.getFcb(33, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	entry := cpm.fileForFcb(&f, caller)
	if entry == nil {
		return
	}
	if !cpm.checkWriteable(entry, caller) {
		return
	}

	offset, ok := f.SeqOffset()
	if !ok || offset == fcb.SeqLimit {
		cpm.setResult(0x06)
		return
	}

	if !cpm.writeRecord(entry, offset, caller) {
		return
	}

	f.SetSeqOffset(offset + 1)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallMakeFile implements BDOS 22, Make File: create-exclusive.
func SysCallMakeFile(cpm *CPM) {
	const caller = "make file"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(33, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	if f.Ex > 31 {
		cpm.Logger.Error(caller + ": illegal extent number")
		return
	}
	f.S2 = 0

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	if cpm.readOnly[drive] {
		cpm.Logger.Error(caller + ": disk write protected")
		cpm.terminate(ErrRoDisk)
		return
	}

	name, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}
	if isAmbiguous(name) {
		cpm.Logger.Error(caller+": ambiguous file name",
			slog.String("name", name))
		return
	}

	path := filepath.Join(cpm.cfg.Drives[drive], name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o666)
	if err != nil {
		cpm.Logger.Error(caller+": could not create",
			slog.String("path", path),
			slog.String("error", err.Error()))
		cpm.terminate(ErrHost)
		return
	}

	entry, ok := cpm.Files.Add(path, file, 0)
	if !ok {
		file.Close()
		cpm.Logger.Error(caller + ": more than 65535 open files")
		cpm.terminate(ErrLogic)
		return
	}
	f.SetID(entry.ID)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallRenameFile implements BDOS 23, Rename File: the new name
// lives in the second half of the FCB.  The rename is performed as
// link-then-unlink, so a failed rename never loses the file.
func SysCallRenameFile(cpm *CPM) {
	const caller = "rename file"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(32, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	if cpm.readOnly[drive] {
		cpm.Logger.Error(caller + ": disk write protected")
		cpm.terminate(ErrRoDisk)
		return
	}

	// The target name occupies bytes 16..27 of the FCB.
	var g fcb.FCB
	raw := cpm.Memory.GetRange(uint16(addr+16), 12)
	g.Drive = raw[0]
	copy(g.Name[:], raw[1:9])
	copy(g.Type[:], raw[9:12])

	oldName, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal old file name")
		return
	}
	newName, ok := hostName(&g)
	if !ok {
		cpm.Logger.Error(caller + ": illegal new file name")
		return
	}
	if isAmbiguous(oldName) || isAmbiguous(newName) {
		cpm.Logger.Error(caller + ": ambiguous file name")
		return
	}

	oldPath := filepath.Join(cpm.cfg.Drives[drive], oldName)
	newPath := filepath.Join(cpm.cfg.Drives[drive], newName)

	err := os.Link(oldPath, newPath)
	if err != nil {
		cpm.Logger.Error(caller+": link failed",
			slog.String("old", oldPath),
			slog.String("new", newPath),
			slog.String("error", err.Error()))
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrExist):
			// reported to the guest as a failed rename
		case errors.Is(err, fs.ErrPermission):
			cpm.terminate(ErrRoFile)
		default:
			cpm.terminate(ErrHost)
		}
		return
	}
	err = os.Remove(oldPath)
	if err != nil {
		cpm.Logger.Error(caller+": unlink failed",
			slog.String("path", oldPath),
			slog.String("error", err.Error()))
		os.Remove(newPath)
		cpm.terminate(ErrHost)
		return
	}
	cpm.setResult(0x00)
}

// SysCallReadRand implements BDOS 33, Read Random.
func SysCallReadRand(cpm *CPM) {
	const caller = "read random"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0x01)

	addr := cpm.getFcb(36, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	entry := cpm.fileForFcb(&f, caller)
	if entry == nil {
		return
	}

	offset, ok := f.RandomRecord()
	if !ok || offset == fcb.SeqLimit {
		cpm.setResult(0x06)
		return
	}

	eof, ok := cpm.readRecord(entry, offset, caller)
	if !ok || eof {
		return
	}

	// A successful random read seeds the sequential offset.
	f.SetSeqOffset(offset)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// writeRandom is the common body of BDOS 34 and BDOS 40; the zero-fill
// variant is identical because unwritten host records read as zero
// anyway.
func (cpm *CPM) writeRandom(caller string) {
	// 0x05 is "no available directory space", which is what the
	// random-mode write is documented to report.
	cpm.setResult(0x05)

	addr := cpm.getFcb(36, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	entry := cpm.fileForFcb(&f, caller)
	if entry == nil {
		return
	}
	if !cpm.checkWriteable(entry, caller) {
		return
	}

	offset, ok := f.RandomRecord()
	if !ok || offset == fcb.SeqLimit {
		cpm.setResult(0x06)
		return
	}

	if !cpm.writeRecord(entry, offset, caller) {
		return
	}

	f.SetSeqOffset(offset)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallWriteRand implements BDOS 34, Write Random.
func SysCallWriteRand(cpm *CPM) {
	const caller = "write random"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.writeRandom(caller)
}

// SysCallWriteRandZeroFill implements BDOS 40.
func SysCallWriteRandZeroFill(cpm *CPM) {
	const caller = "write random with zero fill"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.writeRandom(caller)
}

// SysCallFileSize implements BDOS 35, Compute File Size: the size in
// records lands in the random record field.
func SysCallFileSize(cpm *CPM) {
	const caller = "compute file size"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(36, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	name, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}
	if isAmbiguous(name) {
		cpm.Logger.Error(caller + ": ambiguous file name")
		return
	}

	path := filepath.Join(cpm.cfg.Drives[drive], name)
	info, err := os.Lstat(path)
	if err != nil {
		cpm.Logger.Error(caller+": stat failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if !info.Mode().IsRegular() {
		cpm.Logger.Error(caller+": not a regular file",
			slog.String("path", path))
		return
	}
	if info.Size() > maxFileSize {
		cpm.Logger.Error(caller+": larger than 8 MB",
			slog.String("path", path))
		return
	}

	f.SetRandomRecord(int((info.Size() + blkSize - 1) / blkSize))
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallSetRandomRecord implements BDOS 36: the sequential offset is
// copied into the random record field.
func SysCallSetRandomRecord(cpm *CPM) {
	const caller = "set random record"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(36, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	offset, ok := f.SeqOffset()
	if !ok {
		return
	}
	f.SetRandomRecord(offset)
	cpm.writeFcb(addr, f)
	cpm.setResult(0x00)
}

// SysCallSetFileAttributes implements BDOS 30: attributes are not
// stored, but the name is validated as on real CP/M.
func SysCallSetFileAttributes(cpm *CPM) {
	const caller = "set file attributes"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(32, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	if cpm.readOnly[drive] {
		cpm.Logger.Error(caller + ": disk write protected")
		cpm.terminate(ErrRoDisk)
		return
	}

	// The attribute bits live in the high bits of the name; strip
	// them in the guest's copy, then validate.
	for i := 0; i < 8; i++ {
		f.Name[i] &= 0x7F
	}
	for i := 0; i < 3; i++ {
		f.Type[i] &= 0x7F
	}
	cpm.writeFcb(addr, f)

	name, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}
	if isAmbiguous(name) {
		cpm.Logger.Error(caller + ": ambiguous file name")
		return
	}
	cpm.setResult(0x00)
}

// bdosTable assembles the BDOS dispatch table.
func bdosTable() map[uint8]BdosHandler {
	sys := make(map[uint8]BdosHandler)

	sys[0] = BdosHandler{Desc: "P_TERMCPM", Handler: SysCallExit}
	sys[1] = BdosHandler{Desc: "C_READ", Handler: SysCallReadChar}
	sys[2] = BdosHandler{Desc: "C_WRITE", Handler: SysCallWriteChar}
	sys[3] = BdosHandler{Desc: "A_READ", Handler: SysCallAuxRead}
	sys[4] = BdosHandler{Desc: "A_WRITE", Handler: SysCallAuxWrite}
	sys[5] = BdosHandler{Desc: "L_WRITE", Handler: SysCallPrinterWrite}
	sys[6] = BdosHandler{Desc: "C_RAWIO", Handler: SysCallRawIO}
	sys[7] = BdosHandler{Desc: "GET_IOBYTE", Handler: SysCallGetIOByte}
	sys[8] = BdosHandler{Desc: "SET_IOBYTE", Handler: SysCallSetIOByte}
	sys[9] = BdosHandler{Desc: "C_WRITESTRING", Handler: SysCallWriteString}
	sys[10] = BdosHandler{Desc: "C_READSTRING", Handler: SysCallReadString}
	sys[11] = BdosHandler{Desc: "C_STAT", Handler: SysCallConsoleStatus}
	sys[12] = BdosHandler{Desc: "S_BDOSVER", Handler: SysCallBDOSVersion}
	sys[13] = BdosHandler{Desc: "DRV_ALLRESET", Handler: SysCallDriveAllReset}
	sys[14] = BdosHandler{Desc: "DRV_SET", Handler: SysCallDriveSet}
	sys[15] = BdosHandler{Desc: "F_OPEN", Handler: SysCallFileOpen}
	sys[16] = BdosHandler{Desc: "F_CLOSE", Handler: SysCallFileClose}
	sys[17] = BdosHandler{Desc: "F_SFIRST", Handler: SysCallFindFirst}
	sys[18] = BdosHandler{Desc: "F_SNEXT", Handler: SysCallFindNext}
	sys[19] = BdosHandler{Desc: "F_DELETE", Handler: SysCallDeleteFile}
	sys[20] = BdosHandler{Desc: "F_READ", Handler: SysCallRead}
	sys[21] = BdosHandler{Desc: "F_WRITE", Handler: SysCallWrite}
	sys[22] = BdosHandler{Desc: "F_MAKE", Handler: SysCallMakeFile}
	sys[23] = BdosHandler{Desc: "F_RENAME", Handler: SysCallRenameFile}
	sys[24] = BdosHandler{Desc: "DRV_LOGINVEC", Handler: SysCallLoginVec}
	sys[25] = BdosHandler{Desc: "DRV_GET", Handler: SysCallDriveGet}
	sys[26] = BdosHandler{Desc: "F_DMAOFF", Handler: SysCallSetDMA}
	sys[27] = BdosHandler{Desc: "DRV_ALLOCVEC", Handler: SysCallGetALV}
	sys[28] = BdosHandler{Desc: "DRV_SETRO", Handler: SysCallWriteProtect}
	sys[29] = BdosHandler{Desc: "DRV_ROVEC", Handler: SysCallROVector}
	sys[30] = BdosHandler{Desc: "F_ATTRIB", Handler: SysCallSetFileAttributes}
	sys[31] = BdosHandler{Desc: "DRV_DPB", Handler: SysCallGetDPB}
	sys[32] = BdosHandler{Desc: "F_USERNUM", Handler: SysCallUserNumber}
	sys[33] = BdosHandler{Desc: "F_READRAND", Handler: SysCallReadRand}
	sys[34] = BdosHandler{Desc: "F_WRITERAND", Handler: SysCallWriteRand}
	sys[35] = BdosHandler{Desc: "F_SIZE", Handler: SysCallFileSize}
	sys[36] = BdosHandler{Desc: "F_RANDREC", Handler: SysCallSetRandomRecord}
	sys[37] = BdosHandler{Desc: "DRV_RESET", Handler: SysCallDriveReset}
	sys[40] = BdosHandler{Desc: "F_WRITEZF", Handler: SysCallWriteRandZeroFill}
	sys[49] = BdosHandler{Desc: "S_SYSVAR", Handler: SysCallGetSetSCB}
	sys[101] = BdosHandler{Desc: "DRV_GETLABEL", Handler: SysCallDirLabel}
	sys[102] = BdosHandler{Desc: "F_TIMEDATE", Handler: SysCallFileDateStamps}
	sys[105] = BdosHandler{Desc: "T_GET", Handler: SysCallTime}
	sys[108] = BdosHandler{Desc: "P_CODE", Handler: SysCallReturnCode}
	sys[141] = BdosHandler{Desc: "P_DELAY", Handler: SysCallDelay}

	return sys
}
