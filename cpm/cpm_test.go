package cpm

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cpmrun/cpmrun/config"
	"github.com/cpmrun/cpmrun/consolein"
	"github.com/cpmrun/cpmrun/consoleout"
	"github.com/cpmrun/cpmrun/fcb"
	"github.com/cpmrun/cpmrun/memory"
)

// testLogger returns a logger that swallows everything.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a configuration with drive A bound to a fresh
// temporary directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.New()
	cfg.Drives[0] = t.TempDir()
	cfg.Command = "test"
	err := cfg.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize config: %s", err)
	}
	return cfg
}

// testCPM builds an emulator over the recorder output driver and the
// stream input driver fed from the given string.
func testCPM(t *testing.T, cfg *config.Config, input string) (*CPM, consoleout.ConsoleRecorder) {
	t.Helper()

	c, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("failed to create emulator: %s", err)
	}

	in, err := consolein.New("file", cfg.Charset)
	if err != nil {
		t.Fatalf("failed to create input driver")
	}
	in.GetDriver().(*consolein.FileInput).SetSource(strings.NewReader(input))
	err = in.Setup()
	if err != nil {
		t.Fatalf("failed to set up input driver")
	}

	out, err := consoleout.New("recorder", cfg.Charset)
	if err != nil {
		t.Fatalf("failed to create output driver")
	}

	c.Console.In = in
	c.Console.Out = out
	return c, out.GetDriver().(consoleout.ConsoleRecorder)
}

// writeCom places a program image on drive A.
func writeCom(t *testing.T, cfg *config.Config, name string, prog []byte) {
	t.Helper()
	err := os.WriteFile(filepath.Join(cfg.Drives[0], name), prog, 0o644)
	if err != nil {
		t.Fatalf("failed to write %s", name)
	}
}

// TestLoaderLayout checks the memory image the loader builds.
func TestLoaderLayout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Args = []string{"b:name.txt", "two"}
	c, _ := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{0x76})
	err := c.Load()
	if err != nil {
		t.Fatalf("load failed: %s", err)
	}

	mem := c.Memory

	// The program image.
	if mem.Get(tpaStart) != 0x76 {
		t.Errorf("program not loaded")
	}
	if c.CPU.PC != tpaStart {
		t.Errorf("PC not at the TPA start")
	}

	// Magic page is all RET.
	for a := memory.MagicAddress; a < memory.Size; a++ {
		if mem.Get(uint16(a)) != 0xC9 {
			t.Fatalf("magic page byte %04X is %02X", a, mem.Get(uint16(a)))
		}
	}

	// Zero page.
	if mem.Get(0x0000) != 0xC3 || mem.GetU16(0x0001) != wboot {
		t.Errorf("WBOOT jump missing")
	}
	if mem.Get(iobyte) != 0x00 {
		t.Errorf("IOBYTE not cleared")
	}
	if mem.Get(bdosEntry) != 0xC3 || mem.GetU16(bdosEntry+1) != bdosStart {
		t.Errorf("BDOS entry jump wrong")
	}

	// BDOS stub jumps at the first magic address.
	if mem.Get(bdosStart) != 0xC3 || mem.GetU16(bdosStart+1) != memory.MagicAddress {
		t.Errorf("BDOS stub wrong")
	}

	// Serial number below the stub.
	for i, b := range serialNumber {
		if mem.Get(uint16(serialAddr+i)) != b {
			t.Errorf("serial number byte %d wrong", i)
		}
	}

	// BIOS vector entries point into the magic page.
	for i := 0; i < biosVectorCount; i++ {
		if mem.Get(uint16(biosVector+3*i)) != 0xC3 {
			t.Errorf("BIOS vector entry %d is not a jump", i)
		}
		if mem.GetU16(uint16(biosVector+3*i+1)) != uint16(memory.MagicAddress+1+i) {
			t.Errorf("BIOS vector entry %d target wrong", i)
		}
	}

	// The stack holds a pushed WBOOT return address.
	if mem.GetU16(c.CPU.SP) != wboot {
		t.Errorf("stack should hold the WBOOT address")
	}

	// The command tail: " B:NAME.TXT TWO".
	tail := mem.GetRange(defaultDma+1, int(mem.Get(defaultDma)))
	if string(tail) != " B:NAME.TXT TWO" {
		t.Errorf("command tail %q", string(tail))
	}

	// The first default FCB describes b:name.txt.
	f := fcb.FromBytes(mem.GetRange(defaultFcb1, fcb.Size))
	if f.Drive != 2 || f.GetName() != "NAME" || f.GetType() != "TXT" {
		t.Errorf("default FCB 1 wrong: %d %q %q", f.Drive, f.GetName(), f.GetType())
	}
}

// TestLoaderRejectsBadNames covers the command-name validation.
func TestLoaderRejectsBadNames(t *testing.T) {
	for _, cmd := range []string{"UPPER", "way-too-long-name", "test.exe", "spa ce"} {
		cfg := testConfig(t)
		cfg.Command = cmd
		c, _ := testCPM(t, cfg, "")
		if err := c.Load(); err == nil {
			t.Errorf("command %q should be rejected", cmd)
		}
	}
}

// TestLoaderAppendsCom ensures a bare name gets the .com suffix.
func TestLoaderAppendsCom(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")
	writeCom(t, cfg, "test.com", []byte{0x00})
	if err := c.Load(); err != nil {
		t.Fatalf("load failed: %s", err)
	}
}

// TestLoaderOverrun ensures an oversized image is refused.
func TestLoaderOverrun(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")
	huge := make([]byte, ccpStack-tpaStart+1)
	writeCom(t, cfg, "test.com", huge)
	if err := c.Load(); err == nil {
		t.Fatalf("oversized image should be refused")
	}
}

// TestPrintString runs the print-string scenario end to end: the
// program prints "Hello" via BDOS 9 and jumps to 0x0000.
func TestPrintString(t *testing.T) {
	cfg := testConfig(t)
	c, rec := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{
		0x11, 0x0B, 0x01, // LD DE,0x010B
		0x0E, 0x09, // LD C,9
		0xCD, 0x05, 0x00, // CALL 5
		0xC3, 0x00, 0x00, // JP 0
		'H', 'e', 'l', 'l', 'o', '$',
	})
	err := c.Load()
	if err != nil {
		t.Fatalf("load failed: %s", err)
	}

	c.Execute()

	if rec.GetOutput() != "Hello" {
		t.Fatalf("captured %q", rec.GetOutput())
	}
	if c.Reason() != OkTerm {
		t.Fatalf("wrong termination reason %v", c.Reason())
	}
}

// TestBoot ensures a program reaching BIOS BOOT terminates with the
// boot error.
func TestBoot(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{
		0xC3,
		uint8((memory.MagicAddress + memory.MagicBoot) & 0xFF),
		uint8((memory.MagicAddress + memory.MagicBoot) >> 8),
	})
	if err := c.Load(); err != nil {
		t.Fatalf("load failed: %s", err)
	}

	c.Execute()
	if c.Reason() != ErrBoot {
		t.Fatalf("wrong termination reason %v", c.Reason())
	}
}

// TestUnsupportedSyscall ensures unknown BDOS functions return zero
// and execution continues.
func TestUnsupportedSyscall(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{
		0x0E, 0x63, // LD C,99
		0x11, 0x34, 0x12, // LD DE,0x1234
		0xCD, 0x05, 0x00, // CALL 5
		0xC3, 0x00, 0x00, // JP 0
	})
	if err := c.Load(); err != nil {
		t.Fatalf("load failed: %s", err)
	}

	c.Execute()
	if c.Reason() != OkTerm {
		t.Fatalf("wrong termination reason %v", c.Reason())
	}
	if c.CPU.A != 0 || c.CPU.HL() != 0 {
		t.Fatalf("unsupported function should return zero")
	}
}

// TestArithmeticRoundTrip runs the arithmetic scenario image and
// observes memory and flags via BDOS-free stepping.
func TestArithmeticRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{
		0x3E, 0x01, 0xC6, 0x02, 0x32, 0x00, 0x02,
		0x3A, 0x00, 0x02, 0xFE, 0x03, 0xCA, 0x00, 0x01, 0x76,
	})
	if err := c.Load(); err != nil {
		t.Fatalf("load failed: %s", err)
	}

	for i := 0; i < 6; i++ {
		c.CPU.Step()
	}
	if c.Memory.Get(0x0200) != 3 {
		t.Fatalf("memory[0x0200] = %d", c.Memory.Get(0x0200))
	}
	if !c.CPU.F.Z {
		t.Fatalf("Z should be set before the jump")
	}
	if c.Reason() != OkNotRun {
		t.Fatalf("nothing should have terminated the run")
	}
}

// TestBdosMisc covers the small stateless functions.
func TestBdosMisc(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drives[1] = cfg.Drives[0]
	c, _ := testCPM(t, cfg, "")

	// Version.
	SysCallBDOSVersion(c)
	if c.CPU.A != 0x22 || c.CPU.L != 0x22 || c.CPU.B != 0 || c.CPU.H != 0 {
		t.Fatalf("version registers wrong")
	}

	// IOBYTE.
	c.CPU.E = 0x42
	SysCallSetIOByte(c)
	SysCallGetIOByte(c)
	if c.CPU.A != 0x42 {
		t.Fatalf("IOBYTE lost")
	}

	// User number.
	c.CPU.E = 0x05
	SysCallUserNumber(c)
	c.CPU.E = 0xFF
	SysCallUserNumber(c)
	if c.CPU.A != 0x05 {
		t.Fatalf("user number lost")
	}
	if c.Memory.Get(drvUser)>>4 != 0x05 {
		t.Fatalf("drive/user byte not updated")
	}

	// Login vector: drives A and B.
	SysCallLoginVec(c)
	if c.CPU.HL() != 0x0003 {
		t.Fatalf("login vector %04X", c.CPU.HL())
	}

	// Write protect, then read the vector.
	SysCallWriteProtect(c)
	SysCallROVector(c)
	if c.CPU.HL() != 0x0001 {
		t.Fatalf("read-only vector %04X", c.CPU.HL())
	}

	// Reset drive A clears the runtime bit again.
	c.CPU.SetDE(0x0001)
	SysCallDriveReset(c)
	SysCallROVector(c)
	if c.CPU.HL() != 0x0000 {
		t.Fatalf("reset drive did not restore the vector")
	}

	// DPB and ALV addresses.
	SysCallGetDPB(c)
	if c.CPU.HL() != dpb {
		t.Fatalf("DPB address wrong")
	}
	SysCallGetALV(c)
	if c.CPU.HL() != alv {
		t.Fatalf("ALV address wrong")
	}

	// Select an invalid disk.
	c.CPU.E = 16
	SysCallDriveSet(c)
	if c.Reason() != ErrSelect {
		t.Fatalf("invalid drive should terminate")
	}
}

// TestReturnCode covers BDOS 108 and its effect on the exit status.
func TestReturnCode(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	c.CPU.SetDE(0xFF41)
	SysCallReturnCode(c)
	c.CPU.SetDE(0xFFFF)
	SysCallReturnCode(c)
	if c.CPU.HL() != 0xFF41 {
		t.Fatalf("return code lost: %04X", c.CPU.HL())
	}
	if c.ReturnCode() != 0xFF41 {
		t.Fatalf("accessor disagrees")
	}
}

// TestSCB spot-checks the readable system control block fields.
func TestSCB(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	ask := func(offset uint8) uint16 {
		c.Memory.Set(0x0200, offset)
		c.Memory.Set(0x0201, 0x00)
		c.CPU.SetDE(0x0200)
		SysCallGetSetSCB(c)
		return c.CPU.HL()
	}

	if ask(0x05) != 0x0022 {
		t.Fatalf("SCB version wrong")
	}
	if ask(0x4A) != 1 {
		t.Fatalf("multi-sector count should be 1")
	}
	if ask(0x3C) != defaultDma {
		t.Fatalf("SCB DMA wrong")
	}

	// A write is accepted and discarded.
	c.Memory.Set(0x0200, 0x10)
	c.Memory.Set(0x0201, 0x02)
	c.Memory.SetU16(0x0202, 0x1234)
	c.CPU.SetDE(0x0200)
	SysCallGetSetSCB(c)
	if c.ReturnCode() != 0 {
		t.Fatalf("SCB write should be discarded")
	}
}

// TestDirLabel pins the directory label byte.
func TestDirLabel(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")
	SysCallDirLabel(c)
	if c.CPU.A != 0x61 {
		t.Fatalf("directory label %02X", c.CPU.A)
	}
}

// TestDelayHook measures the millisecond delay trap loosely.
func TestDelayHook(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	c.CPU.SetBC(30)
	start := time.Now()
	c.trap(memory.MagicDelay)
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("delay trap returned too quickly")
	}
}

// TestSectran ensures BIOS SECTRAN returns BC unchanged in HL.
func TestSectran(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	c.CPU.SetBC(0x1234)
	c.trap(17)
	if c.CPU.HL() != 0x1234 {
		t.Fatalf("SECTRAN changed the sector: %04X", c.CPU.HL())
	}
}

// TestSignal delivers a terminating signal while the guest spins in a
// tight loop, and expects a prompt ErrSignal stop.
func TestSignal(t *testing.T) {
	cfg := testConfig(t)
	c, _ := testCPM(t, cfg, "")

	writeCom(t, cfg, "test.com", []byte{0x18, 0xFE}) // JR $
	if err := c.Load(); err != nil {
		t.Fatalf("load failed: %s", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		unix.Kill(unix.Getpid(), unix.SIGINT)
	}()

	done := make(chan struct{})
	go func() {
		c.Execute()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("signal did not stop the run")
	}

	if c.Reason() != ErrSignal {
		t.Fatalf("wrong termination reason %v", c.Reason())
	}
}
