// Package cpm is the main package for our emulator: it owns the
// guest machine, dispatches the operating-system calls a CP/M program
// makes, and maps the CP/M file model onto host directories.
//
// The package mostly contains the implementation of the syscalls that
// CP/M programs would expect - along with a little machinery to wire
// up the Z80 interpreter, the console, and the FCB structures.
package cpm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cpmrun/cpmrun/chario"
	"github.com/cpmrun/cpmrun/config"
	"github.com/cpmrun/cpmrun/memory"
	"github.com/cpmrun/cpmrun/xlog"
	"github.com/cpmrun/cpmrun/z80"
)

// Reason describes why the emulation terminated.
type Reason int

// The termination taxonomy, ordered so that everything after OkCtrlC
// is a failure.
const (
	// OkNotRun means start-up aborted before any instruction ran.
	OkNotRun Reason = iota

	// OkTerm is a normal termination via BDOS 0 or BIOS WBOOT.
	OkTerm

	// OkCtrlC means the line editor saw ^C at the start of a line.
	OkCtrlC

	// ErrBoot means the program called BIOS BOOT.
	ErrBoot

	// ErrBdosArg means an argument pointer was outside the guest
	// address space, or a $-string was malformed.
	ErrBdosArg

	// ErrSelect is an access to an unconfigured drive.
	ErrSelect

	// ErrRoDisk is a write to a read-only drive.
	ErrRoDisk

	// ErrRoFile is a write to a read-only file.
	ErrRoFile

	// ErrHost means an underlying host operation failed unexpectedly.
	ErrHost

	// ErrLogic means the guest violated the FCB ID protocol.
	ErrLogic

	// ErrSignal means a terminating signal was caught.
	ErrSignal
)

// Failed reports whether the reason is an error termination.
func (r Reason) Failed() bool {
	return r > OkCtrlC
}

// String describes the reason the way the exit diagnostics print it.
func (r Reason) String() string {
	switch r {
	case OkNotRun:
		return "not run"
	case OkTerm:
		return "terminated by program"
	case OkCtrlC:
		return "terminated by ^C"
	case ErrBoot:
		return "BIOS cold boot entry called"
	case ErrBdosArg:
		return "invalid argument in BDOS call"
	case ErrSelect:
		return "access to invalid/unconfigured disk"
	case ErrRoDisk:
		return "attempted write access to read-only disk"
	case ErrRoFile:
		return "attempted write access to read-only file"
	case ErrHost:
		return "host system call failed"
	case ErrLogic:
		return "guest program logic error"
	case ErrSignal:
		return "program execution stopped by signal"
	default:
		return "unknown"
	}
}

// BdosHandlerType contains the signature of a BDOS function handler.
type BdosHandlerType func(cpm *CPM)

// BdosHandler contains details of a specific call we implement.
//
// While we mostly need a "number to handler" mapping, having a name is
// useful for the logs we produce.
type BdosHandler struct {
	// Desc contains the human-readable description of the given
	// CP/M syscall.
	Desc string

	// Handler contains the function which is invoked for this
	// syscall.
	Handler BdosHandlerType
}

// CPM is the object that holds our emulator state.
type CPM struct {

	// Memory contains the 64K the system runs with.
	Memory *memory.Memory

	// CPU is the Z80 interpreter executing the guest.
	CPU *z80.CPU

	// Console is the console device.
	Console *chario.Console

	// Printer, Punch, and Reader are the auxiliary devices.
	Printer *chario.OutDevice
	Punch   *chario.OutDevice
	Reader  *chario.InDevice

	// Files tracks the open host files on behalf of the guest FCBs.
	Files *FileRegistry

	// Syscalls contains the BDOS functions we know how to emulate,
	// indexed by their number in register C.
	Syscalls map[uint8]BdosHandler

	// cfg is the emulator configuration.
	cfg *config.Config

	// currentDrive is 0..15 for A: to P:.
	currentDrive int

	// currentUser is the 4-bit user number.
	currentUser int

	// readOnly is the runtime write-protect vector.
	readOnly [16]bool

	// dma is the current DMA address.
	dma uint16

	// searchList holds the remaining results of Search First, popped
	// by Search First and Search Next.
	searchList []searchEntry

	// reason records why the run ended.
	reason Reason

	// returnCode is the CP/M 3 program return code.
	returnCode uint16

	// level is the configured log verbosity, kept for the cheap
	// "is this level enabled" checks the call tracing needs.
	level xlog.Level

	Logger *slog.Logger
}

// serialNumber is the OS serial number placed below the BDOS stub.
var serialNumber = []uint8{0x00, 0x16, 0x00, 0xC0, 0xFF, 0xEE}

// New returns a new emulation object for the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*CPM, error) {

	console, err := chario.NewConsole(cfg, logger)
	if err != nil {
		return nil, err
	}

	mem := new(memory.Memory)
	cpu := z80.New(mem, logger)
	cpu.DelayCount = cfg.DelayCount
	cpu.DelayNanos = time.Duration(cfg.DelayNanos)
	cpu.CountInstructions = xlog.Level(cfg.LogLevel) >= xlog.Counters

	c := &CPM{
		Memory:  mem,
		CPU:     cpu,
		Console: console,
		Printer: chario.NewOutDevice("printer", cfg.Printer, cfg.Charset),
		Punch:   chario.NewOutDevice("punch", cfg.Punch, cfg.Charset),
		Reader:  chario.NewInDevice(cfg.Reader, cfg.Charset),
		Files:   NewFileRegistry(logger),
		cfg:     cfg,
		level:   xlog.Level(cfg.LogLevel),
		Logger:  logger,
	}
	c.Syscalls = bdosTable()

	cpu.Trap = c.trap
	cpu.Poll = console.Poll
	cpu.DumpRequested = func() { c.DumpMachine("signal") }
	console.Interrupt = func() { c.terminate(ErrSignal) }

	c.diskReset()
	return c, nil
}

// Reason returns why the run ended.
func (cpm *CPM) Reason() Reason {
	return cpm.reason
}

// ReturnCode returns the CP/M 3 program return code.
func (cpm *CPM) ReturnCode() uint16 {
	return cpm.returnCode
}

// TpaEnd returns the highest address a transient program may use.
func (cpm *CPM) TpaEnd() uint16 {
	return ccpStack - 1
}

// terminate stops the interpreter, recording the first reason.
func (cpm *CPM) terminate(reason Reason) {
	if !cpm.CPU.Stopped() {
		cpm.reason = reason
		cpm.CPU.RequestStop()
	}
}

// diskReset sets the current drive and read-only vector to their
// configured defaults and moves the DMA address back to 0x0080.
func (cpm *CPM) diskReset() {
	cpm.currentDrive = cpm.cfg.DefaultDrive
	cpm.Memory.Set(drvUser, uint8(cpm.currentDrive)|uint8(cpm.currentUser)<<4)
	copy(cpm.readOnly[:], cpm.cfg.ReadOnly[:])
	cpm.dma = defaultDma
}

// Execute runs the loaded program until it terminates.
//
// The terminating signals stop the run with ErrSignal on first
// delivery and are ignored afterwards; SIGUSR1 requests a machine
// dump at the next instruction boundary.
func (cpm *CPM) Execute() {

	sigc := make(chan os.Signal, 4)
	signal.Notify(sigc, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT)

	var dumpc chan os.Signal
	if cpm.cfg.Dump&config.DumpSignal != 0 {
		dumpc = make(chan os.Signal, 1)
		signal.Notify(dumpc, unix.SIGUSR1)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigc:
				cpm.terminate(ErrSignal)
			case <-dumpc:
				cpm.CPU.RequestDump()
			case <-done:
				return
			}
		}
	}()

	if cpm.cfg.Dump&config.DumpStartup != 0 {
		cpm.DumpMachine("startup")
	}

	cpm.CPU.Run()

	close(done)
	signal.Stop(sigc)
	if dumpc != nil {
		signal.Stop(dumpc)
	}
}

// Cleanup releases every resource the run acquired, in reverse order
// of setup: open guest files first, devices last.
func (cpm *CPM) Cleanup() error {
	var rc error

	cpm.diskReset()
	cpm.Files.CloseAll()

	if err := cpm.Printer.Close(cpm.Logger); err != nil && rc == nil {
		rc = err
	}
	if err := cpm.Punch.Close(cpm.Logger); err != nil && rc == nil {
		rc = err
	}
	if err := cpm.Reader.Close(cpm.Logger); err != nil && rc == nil {
		rc = err
	}

	if cpm.level >= xlog.Counters {
		cpm.CPU.LogCounters(func(line string) {
			cpm.Logger.Log(context.Background(), xlog.Counters.Slog(), line)
		})
	}
	return rc
}

// DumpMachine writes the architectural state to the log.
func (cpm *CPM) DumpMachine(label string) {
	cpm.Logger.Error(fmt.Sprintf("machine dump (%s)", label))
	for _, line := range cpm.CPU.StateDump() {
		cpm.Logger.Error(line)
	}
}

// Register result helpers: the BIOS/BDOS calling convention wants the
// result byte duplicated in A and L with B and H cleared, and 16-bit
// results in both HL and BA.

func (cpm *CPM) setResult(v uint8) {
	cpm.CPU.A = v
	cpm.CPU.L = v
	cpm.CPU.B = 0
	cpm.CPU.H = 0
}

func (cpm *CPM) setResultHL(v uint16) {
	cpm.CPU.L = uint8(v & 0xFF)
	cpm.CPU.A = uint8(v & 0xFF)
	cpm.CPU.H = uint8(v >> 8)
	cpm.CPU.B = uint8(v >> 8)
}

// Call tracing helpers; the FDOS functions trace at the Fdos level,
// everything else at the Syscall level.

func (cpm *CPM) sysEntry(level xlog.Level, name string, regs ...slog.Attr) {
	if cpm.level < level {
		return
	}
	args := make([]any, 0, len(regs))
	for _, a := range regs {
		args = append(args, a)
	}
	cpm.Logger.Log(context.Background(), level.Slog(), name+" entry", args...)
}

func (cpm *CPM) sysExit(level xlog.Level, name string) {
	if cpm.level < level {
		return
	}
	cpm.Logger.Log(context.Background(), level.Slog(), name+" exit",
		slog.Int("a", int(cpm.CPU.A)),
		slog.String("hl", fmt.Sprintf("0x%04X", cpm.CPU.HL())))
}
