// entry point

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cpmrun/cpmrun/config"
	"github.com/cpmrun/cpmrun/cpm"
	"github.com/cpmrun/cpmrun/memory"
	"github.com/cpmrun/cpmrun/version"
	"github.com/cpmrun/cpmrun/xlog"
)

// usage displays a short summary of the command-line surface.
func usage() {
	fmt.Fprintf(os.Stderr, "%s", version.GetVersionBanner())
	fmt.Fprintf(os.Stderr, "usage: cpmrun [ <options> ] command [ <parameters> ... ]\n")
	fmt.Fprintf(os.Stderr, "valid <options> are\n")
	fmt.Fprintf(os.Stderr, "    -a               use alternate charset\n")
	fmt.Fprintf(os.Stderr, "    -b               use line mode console\n")
	fmt.Fprintf(os.Stderr, "    -c (<n>|@)       number of full screen mode columns *\n")
	fmt.Fprintf(os.Stderr, "    -d <drive>       set default drive\n")
	fmt.Fprintf(os.Stderr, "    -e [h][b<bytes>|p<pages>|r[<addr>]-<addr>]:<fn>\n")
	fmt.Fprintf(os.Stderr, "                     save memory to file <fn> after execution\n")
	fmt.Fprintf(os.Stderr, "    -f <fn>          read configuration from file <fn>\n")
	fmt.Fprintf(os.Stderr, "    -l (<n>|@)       number of full screen mode lines *\n")
	fmt.Fprintf(os.Stderr, "    -n               never actually close files\n")
	fmt.Fprintf(os.Stderr, "    -r               reverse backspace and delete keys *\n")
	fmt.Fprintf(os.Stderr, "    -s               use full screen mode console\n")
	fmt.Fprintf(os.Stderr, "    -t (<n>|@)       delay before exiting full screen mode *\n")
	fmt.Fprintf(os.Stderr, "    -v <level>       set log level\n")
	fmt.Fprintf(os.Stderr, "    -w               use alternate function keys *\n")
	fmt.Fprintf(os.Stderr, "    -y (n|<n>,<ns>)  add <ns> nanoseconds delay every <n> instructions\n")
	fmt.Fprintf(os.Stderr, "    -z {a|e|i|n|s|x} set dump options\n")
	fmt.Fprintf(os.Stderr, "options with an asterisk (*) apply only to full screen mode\n")
}

// parseAddress parses a guest address in decimal, hexadecimal (0x), or
// octal (leading 0).
func parseAddress(s string) (int, string, error) {
	base := 10
	digits := "0123456789"
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
		digits = "0123456789abcdefABCDEF"
	} else if strings.HasPrefix(s, "0") && len(s) > 1 {
		base = 8
		digits = "01234567"
	}

	end := 0
	for end < len(s) && strings.ContainsRune(digits, rune(s[end])) {
		end++
	}
	if end == 0 {
		return 0, s, fmt.Errorf("address expected")
	}
	n, err := strconv.ParseInt(s[:end], base, 32)
	if err != nil || n >= memory.Size {
		return 0, s, fmt.Errorf("invalid address")
	}
	return int(n), s[end:], nil
}

// parseSave parses the argument of the -e option into the save
// configuration.
func parseSave(arg string, save *config.Save, tpaEnd int) error {
	rangeSet := false
	s := arg

	for len(s) > 0 {
		switch s[0] {
		case 'h':
			if save.Hex {
				return fmt.Errorf("option -e: suboption h may be specified only once")
			}
			save.Hex = true
			s = s[1:]

		case 'r':
			if rangeSet {
				return fmt.Errorf("option -e: range may be specified only once")
			}
			rangeSet = true
			s = s[1:]
			if !strings.HasPrefix(s, "-") {
				n, rest, err := parseAddress(s)
				if err != nil {
					return fmt.Errorf("option -e: suboption r: invalid start address")
				}
				save.Start = n
				s = rest
			} else {
				save.Start = 0x100
			}
			if !strings.HasPrefix(s, "-") {
				return fmt.Errorf("option -e: suboption r: range expected")
			}
			s = s[1:]
			n, rest, err := parseAddress(s)
			if err != nil || n < save.Start {
				return fmt.Errorf("option -e: suboption r: invalid end address")
			}
			save.End = n
			s = rest

		case 'b':
			if rangeSet {
				return fmt.Errorf("option -e: range may be specified only once")
			}
			rangeSet = true
			n, rest, err := parseAddress(s[1:])
			if err != nil || n < 1 || n > memory.Size-0x100 {
				return fmt.Errorf("option -e: suboption b: invalid byte count")
			}
			save.Start = 0x100
			save.End = 0x100 + n - 1
			s = rest

		case 'p':
			if rangeSet {
				return fmt.Errorf("option -e: range may be specified only once")
			}
			rangeSet = true
			n, rest, err := parseAddress(s[1:])
			if err != nil || n < 1 || n > memory.Size/256-1 {
				return fmt.Errorf("option -e: suboption p: invalid page count")
			}
			save.Start = 0x100
			save.End = 0x100 + n*256 - 1
			s = rest

		case ':':
			save.File = s[1:]
			s = ""

		default:
			return fmt.Errorf("option -e: illegal suboption '%c'", s[0])
		}
	}

	if !rangeSet {
		save.Start = 0x100
		save.End = tpaEnd
	}
	if save.File == "" {
		return fmt.Errorf("option -e: no file name specified")
	}
	return nil
}

// parseDelay parses the -y argument: "n" disables any configured
// delay, "<count>,<ns>" sets one.
func parseDelay(arg string, cfg *config.Config) error {
	if arg == "n" {
		cfg.DelayCount = 0
		return nil
	}
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return fmt.Errorf("option -y: count,nanoseconds expected")
	}
	count, err1 := strconv.Atoi(parts[0])
	nanos, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || count < 1 || nanos < 1 {
		return fmt.Errorf("option -y: invalid delay")
	}
	cfg.DelayCount = count
	cfg.DelayNanos = nanos
	return nil
}

// parseDump parses the -z suboptions.
func parseDump(arg string, cfg *config.Config) error {
	flags := 0
	for _, c := range arg {
		switch c {
		case 'n':
			flags |= config.DumpNone
		case 's':
			flags |= config.DumpStartup
		case 'x':
			flags |= config.DumpExit
		case 'i':
			flags |= config.DumpSignal
		case 'e':
			flags |= config.DumpError
		case 'a':
			flags |= config.DumpAll
		default:
			return fmt.Errorf("illegal -z suboption '%c'", c)
		}
	}
	err := config.CheckDumpFlags(flags)
	if err != nil {
		return err
	}
	cfg.Dump = config.ExpandDumpFlags(flags)
	return nil
}

// parseSize parses a full-screen dimension: a number or "@" for the
// current terminal size.
func parseSize(arg string, min, max int) (int, error) {
	if arg == "@" {
		return -1, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("size out of range (%d..%d)", min, max)
	}
	return n, nil
}

// getConfig parses the command line and the optional configuration
// file into a finalized Config.
func getConfig(args []string) (*config.Config, error) {
	cfg := config.New()

	fs := flag.NewFlagSet("cpmrun", flag.ContinueOnError)
	fs.Usage = usage

	altCharset := fs.Bool("a", false, "use alternate charset")
	lineMode := fs.Bool("b", false, "use line mode console")
	cols := fs.String("c", "", "number of full screen mode columns")
	drive := fs.String("d", "", "set default drive")
	save := fs.String("e", "", "save memory to file after execution")
	confFile := fs.String("f", "", "read configuration from file")
	lines := fs.String("l", "", "number of full screen mode lines")
	noClose := fs.Bool("n", false, "never actually close files")
	revBsDel := fs.Bool("r", false, "reverse backspace and delete keys")
	fullScreen := fs.Bool("s", false, "use full screen mode console")
	screenDelay := fs.String("t", "", "delay before exiting full screen mode")
	logLevel := fs.Int("v", -1, "set log level")
	altKeys := fs.Bool("w", false, "use alternate function keys")
	cpuDelay := fs.String("y", "", "CPU delay")
	dump := fs.String("z", "", "set dump options")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if *lineMode && *fullScreen {
		return nil, fmt.Errorf("options -b and -s are mutually exclusive")
	}
	if *lineMode {
		cfg.Console = config.ConsoleLine
	}
	if *fullScreen {
		cfg.Console = config.ConsoleFullScreen
	}

	cfg.UseAltCharset = *altCharset
	if *noClose {
		cfg.DontClose = 1
	}
	if *revBsDel {
		cfg.ReverseBsDel = 1
	}
	if *altKeys {
		cfg.AltKeys = 1
	}

	if *drive != "" {
		d := strings.TrimSuffix(*drive, ":")
		if len(d) != 1 || d[0] < 'a' || d[0] > 'p' {
			return nil, fmt.Errorf("invalid default drive")
		}
		cfg.DefaultDrive = int(d[0] - 'a')
	}

	if *cols != "" {
		cfg.Cols, err = parseSize(*cols, config.MinCols, config.MaxCols)
		if err != nil {
			return nil, err
		}
	}
	if *lines != "" {
		cfg.Lines, err = parseSize(*lines, config.MinLines, config.MaxLines)
		if err != nil {
			return nil, err
		}
	}
	if *screenDelay != "" {
		if *screenDelay == "@" {
			cfg.ScreenDelay = -2
		} else {
			n, err := strconv.Atoi(*screenDelay)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid delay")
			}
			cfg.ScreenDelay = n
		}
	}
	if *logLevel != -1 {
		if !xlog.Level(*logLevel).Valid() {
			return nil, fmt.Errorf("invalid log level")
		}
		cfg.LogLevel = *logLevel
	}
	if *cpuDelay != "" {
		err = parseDelay(*cpuDelay, cfg)
		if err != nil {
			return nil, err
		}
	}
	if *dump != "" {
		err = parseDump(*dump, cfg)
		if err != nil {
			return nil, err
		}
	}
	if *save != "" {
		err = parseSave(*save, &cfg.Save, memory.Size-1)
		if err != nil {
			return nil, err
		}
	}

	// There must be a command name; further parameters become the
	// CP/M command tail.
	rest := fs.Args()
	if len(rest) == 0 {
		return nil, fmt.Errorf("command name expected")
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]

	if *confFile != "" {
		err = cfg.ReadFile(*confFile)
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Finalize()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main without the process exit, so tests can call it.
func run(args []string) int {

	// If the only parameter is -h, print the usage summary and exit.
	if len(args) == 1 && args[0] == "-h" {
		usage()
		return 0
	}

	cfg, err := getConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
		usage()
		return 1
	}

	log, logCloser, err := xlog.New(cfg.LogPath, xlog.Level(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
		return 1
	}
	defer func() {
		if logCloser != nil {
			logCloser.Close()
		}
	}()

	machine, err := cpm.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
		return 1
	}

	err = machine.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
		return 1
	}

	// If no explicit save range was given, the default covers the
	// transient area.
	if cfg.Save.File != "" && cfg.Save.End == memory.Size-1 && cfg.Save.Start == 0x100 {
		cfg.Save.End = int(machine.TpaEnd())
	}

	err = machine.Console.Setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
		return 1
	}

	machine.Execute()

	err = machine.Console.TearDown()
	if err != nil {
		log.Error("console teardown failed", "error", err.Error())
	}

	reason := machine.Reason()

	// Exit and error dumps.
	if cfg.Dump&config.DumpExit != 0 {
		machine.DumpMachine("exit")
	} else if cfg.Dump&config.DumpError != 0 && reason.Failed() {
		machine.DumpMachine("error")
	}

	if reason.Failed() {
		fmt.Fprintf(os.Stderr, "cpmrun: %s\n", reason)
	}

	rc := 0
	if reason.Failed() {
		rc = 1
	}

	// The optional memory save happens only after a clean run.
	if !reason.Failed() && cfg.Save.File != "" {
		err = saveMemory(machine, cfg.Save)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cpmrun: %s\n", err)
			rc = 1
		}
	}

	// A program return code of 0xFF00 or above requests a nonzero
	// host exit status.
	if !reason.Failed() && machine.ReturnCode() >= 0xFF00 {
		rc = 1
	}

	err = machine.Cleanup()
	if err != nil {
		rc = 1
	}
	return rc
}
