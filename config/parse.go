package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cpmrun/cpmrun/charset"
	"github.com/cpmrun/cpmrun/xlog"
)

// ReadFile reads the named configuration file into the Config.
//
// The file is line-orientated: every non-empty, non-comment line holds
// one directive.  Directives already set on the command line keep their
// command-line value; the parser still checks their syntax.
func (c *Config) ReadFile(path string) error {

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open configuration file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	ln := 0
	for scanner.Scan() {
		ln++
		err = c.parseLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("%s(%d): %w", path, ln, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read error on %s: %w", path, err)
	}
	return nil
}

// parser wraps the lexer with one-token lookahead and error helpers.
type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	p.tok = p.lex.next()
	if p.tok.kind == tokError {
		return p.tok.err
	}
	return nil
}

func (p *parser) expectEqual() error {
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.kind != tokEqual {
		return fmt.Errorf("'=' expected")
	}
	return p.next()
}

func (p *parser) number(min, max uint64, what string) (uint64, error) {
	if p.tok.kind != tokNumber {
		return 0, fmt.Errorf("%s: number expected", what)
	}
	if p.tok.num < min || p.tok.num > max {
		return 0, fmt.Errorf("%s: number out of range (%d..%d)", what, min, max)
	}
	return p.tok.num, nil
}

func (p *parser) str(what string) (string, error) {
	if p.tok.kind != tokString {
		return "", fmt.Errorf("%s: string expected", what)
	}
	return p.tok.text, nil
}

func (p *parser) boolean(what string) (bool, error) {
	if p.tok.kind == tokIdent {
		switch p.tok.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("%s: boolean value expected", what)
}

// atEnd verifies nothing but a comment follows the directive.
func (p *parser) atEnd() error {
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.kind != tokEOL {
		return fmt.Errorf("trailing garbage")
	}
	return nil
}

// parseLine handles a single configuration directive.
func (c *Config) parseLine(line string) error {
	p := &parser{lex: newLexer(line)}
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.kind == tokEOL {
		return nil
	}
	if p.tok.kind != tokIdent {
		return fmt.Errorf("keyword expected")
	}

	// An "alt" prefix selects the alternate character table for the
	// charset and char directives.
	alt := false
	if p.tok.text == "alt" {
		alt = true
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent {
			return fmt.Errorf("keyword expected after alt")
		}
	}

	switch p.tok.text {
	case "charset":
		return c.parseCharset(p, alt)
	case "char":
		return c.parseChar(p, alt)
	}
	if alt {
		return fmt.Errorf("unexpected keyword %q after alt", p.tok.text)
	}

	switch p.tok.text {
	case "unprintable":
		if err := p.expectEqual(); err != nil {
			return err
		}
		s, err := p.str("unprintable")
		if err != nil {
			return err
		}
		if s == "" {
			return fmt.Errorf("unprintable: empty string")
		}
		c.Charset.Unprintable = []rune(s)[0]
		return p.atEnd()

	case "console":
		if err := p.expectEqual(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent {
			return fmt.Errorf("console: full or line expected")
		}
		mode := ConsoleUnset
		switch p.tok.text {
		case "full":
			mode = ConsoleFullScreen
		case "line":
			mode = ConsoleLine
		default:
			return fmt.Errorf("console: full or line expected")
		}
		if c.Console == ConsoleUnset {
			c.Console = mode
		}
		return p.atEnd()

	case "lines":
		return c.parseDim(p, &c.Lines, MinLines, MaxLines, "lines")
	case "columns":
		return c.parseDim(p, &c.Cols, MinCols, MaxCols, "columns")

	case "drive":
		return c.parseDrive(p)

	case "default":
		// default drive = <letter>
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "drive" {
			return fmt.Errorf("drive expected after default")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || len(p.tok.text) != 1 ||
			p.tok.text[0] < 'a' || p.tok.text[0] > 'p' {
			return fmt.Errorf("default drive: drive letter a..p expected")
		}
		if c.DefaultDrive == -1 {
			c.DefaultDrive = int(p.tok.text[0] - 'a')
		}
		return p.atEnd()

	case "logfile":
		if err := p.expectEqual(); err != nil {
			return err
		}
		s, err := p.str("logfile")
		if err != nil {
			return err
		}
		if c.LogPath == "" {
			c.LogPath = s
		}
		return p.atEnd()

	case "loglevel":
		if err := p.expectEqual(); err != nil {
			return err
		}
		n, err := p.number(0, uint64(xlog.Syscall), "loglevel")
		if err != nil {
			return err
		}
		if c.LogLevel == -1 {
			c.LogLevel = int(n)
		}
		return p.atEnd()

	case "screen":
		// screen delay = <seconds> | key
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "delay" {
			return fmt.Errorf("delay expected after screen")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		delay := 0
		if p.tok.kind == tokIdent && p.tok.text == "key" {
			delay = -2
		} else {
			n, err := p.number(0, 1<<30, "screen delay")
			if err != nil {
				return err
			}
			delay = int(n)
		}
		if c.ScreenDelay == -1 {
			c.ScreenDelay = delay
		}
		return p.atEnd()

	case "application":
		// application cursor = true|false
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "cursor" {
			return fmt.Errorf("cursor expected after application")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		b, err := p.boolean("application cursor")
		if err != nil {
			return err
		}
		c.ApplicationCursor = b
		return p.atEnd()

	case "exchange":
		// exchange delete = true|false
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "delete" {
			return fmt.Errorf("delete expected after exchange")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		b, err := p.boolean("exchange delete")
		if err != nil {
			return err
		}
		if c.ReverseBsDel == -1 {
			if b {
				c.ReverseBsDel = 1
			} else {
				c.ReverseBsDel = 0
			}
		}
		return p.atEnd()

	case "close":
		// close files = true|false
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "files" {
			return fmt.Errorf("files expected after close")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		b, err := p.boolean("close files")
		if err != nil {
			return err
		}
		if c.DontClose == -1 {
			if b {
				c.DontClose = 0
			} else {
				c.DontClose = 1
			}
		}
		return p.atEnd()

	case "cpu":
		// cpu delay = <count> , <nanoseconds>
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent || p.tok.text != "delay" {
			return fmt.Errorf("delay expected after cpu")
		}
		if err := p.expectEqual(); err != nil {
			return err
		}
		count, err := p.number(1, 1<<30, "cpu delay count")
		if err != nil {
			return err
		}
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokComma {
			return fmt.Errorf("',' expected")
		}
		if err := p.next(); err != nil {
			return err
		}
		nanos, err := p.number(1, 1<<30, "cpu delay nanoseconds")
		if err != nil {
			return err
		}
		if c.DelayCount == -1 {
			c.DelayCount = int(count)
			c.DelayNanos = int(nanos)
		}
		return p.atEnd()

	case "printer":
		return c.parseAux(p, &c.Printer, "printer")
	case "punch":
		return c.parseAux(p, &c.Punch, "punch")
	case "reader":
		return c.parseAux(p, &c.Reader, "reader")

	case "dump":
		return c.parseDump(p)
	}

	return fmt.Errorf("unknown keyword %q", p.tok.text)
}

// parseCharset handles "charset = <name>" / "alt charset = <name>".
func (c *Config) parseCharset(p *parser, alt bool) error {
	if err := p.expectEqual(); err != nil {
		return err
	}
	if p.tok.kind != tokIdent {
		return fmt.Errorf("charset: name expected")
	}
	name := p.tok.text
	table := &c.Charset.Primary
	if alt {
		table = &c.Charset.Alternate
	}
	if err := charset.FillDefaults(table, name); err != nil {
		return err
	}
	if alt {
		c.MarkAlternateSet()
	} else {
		c.MarkPrimarySet()
	}
	return p.atEnd()
}

// parseChar handles "char <code> = \"<s>\"" / "alt char ...", patching
// one table position.
func (c *Config) parseChar(p *parser, alt bool) error {
	if err := p.next(); err != nil {
		return err
	}
	code, err := p.number(0x20, 0xFF, "char")
	if err != nil {
		return err
	}
	if code == 0x7F {
		return fmt.Errorf("char: 0x7f is not translatable")
	}
	if err := p.expectEqual(); err != nil {
		return err
	}
	s, err := p.str("char")
	if err != nil {
		return err
	}
	if s == "" {
		return fmt.Errorf("char: empty string")
	}
	if alt {
		c.Charset.Alternate[code] = []rune(s)[0]
	} else {
		c.Charset.Primary[code] = []rune(s)[0]
	}
	return p.atEnd()
}

// parseDim handles "lines = <n>|current" and "columns = <n>|current".
func (c *Config) parseDim(p *parser, dst *int, min, max int, what string) error {
	if err := p.expectEqual(); err != nil {
		return err
	}
	v := 0
	if p.tok.kind == tokIdent && p.tok.text == "current" {
		v = -1
	} else {
		n, err := p.number(uint64(min), uint64(max), what)
		if err != nil {
			return err
		}
		v = int(n)
	}
	if *dst == 0 {
		*dst = v
	}
	return p.atEnd()
}

// parseDrive handles "drive <letter> = [readonly,] \"<path>\"".
func (c *Config) parseDrive(p *parser) error {
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.kind != tokIdent || len(p.tok.text) != 1 ||
		p.tok.text[0] < 'a' || p.tok.text[0] > 'p' {
		return fmt.Errorf("drive: drive letter a..p expected")
	}
	drive := int(p.tok.text[0] - 'a')

	if err := p.expectEqual(); err != nil {
		return err
	}

	readonly := false
	if p.tok.kind == tokIdent {
		if p.tok.text != "readonly" {
			return fmt.Errorf("drive: readonly expected")
		}
		readonly = true
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokComma {
			return fmt.Errorf("drive: ',' expected after readonly")
		}
		if err := p.next(); err != nil {
			return err
		}
	}

	path, err := p.str("drive")
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("drive: empty path")
	}
	if c.Drives[drive] != "" {
		return fmt.Errorf("drive %c: defined twice", 'a'+drive)
	}
	c.Drives[drive] = strings.TrimRight(path, "/")
	if c.Drives[drive] == "" {
		c.Drives[drive] = "/"
	}
	c.ReadOnly[drive] = readonly
	return p.atEnd()
}

// parseAux handles "printer|punch|reader file = ..." and "... mode = ...".
func (c *Config) parseAux(p *parser, dev *AuxDevice, what string) error {
	if err := p.next(); err != nil {
		return err
	}
	if p.tok.kind != tokIdent {
		return fmt.Errorf("%s: file or mode expected", what)
	}
	switch p.tok.text {
	case "file":
		if err := p.expectEqual(); err != nil {
			return err
		}
		s, err := p.str(what)
		if err != nil {
			return err
		}
		if dev.Path != "" {
			return fmt.Errorf("%s file: defined twice", what)
		}
		dev.Path = s
		return p.atEnd()

	case "mode":
		if err := p.expectEqual(); err != nil {
			return err
		}
		if p.tok.kind != tokIdent {
			return fmt.Errorf("%s mode: text or raw expected", what)
		}
		raw := false
		switch p.tok.text {
		case "text":
			raw = false
		case "raw":
			raw = true
		default:
			return fmt.Errorf("%s mode: text or raw expected", what)
		}
		if dev.ModeSet() {
			return fmt.Errorf("%s mode: defined twice", what)
		}
		dev.SetMode(raw)
		return p.atEnd()
	}
	return fmt.Errorf("%s: file or mode expected", what)
}

// parseDump handles "dump = <flag> [, <flag> ...]".
func (c *Config) parseDump(p *parser) error {
	if err := p.expectEqual(); err != nil {
		return err
	}
	flags := 0
	for {
		if p.tok.kind != tokIdent {
			return fmt.Errorf("dump: flag expected")
		}
		switch p.tok.text {
		case "all":
			flags |= DumpAll
		case "none":
			flags |= DumpNone
		case "startup":
			flags |= DumpStartup
		case "signal":
			flags |= DumpSignal
		case "exit":
			flags |= DumpExit
		case "error":
			flags |= DumpError
		default:
			return fmt.Errorf("dump: unknown flag %q", p.tok.text)
		}
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.kind != tokComma {
			break
		}
		if err := p.next(); err != nil {
			return err
		}
	}
	if p.tok.kind != tokEOL {
		return fmt.Errorf("trailing garbage")
	}

	if err := CheckDumpFlags(flags); err != nil {
		return err
	}
	if c.Dump == 0 {
		c.Dump = flags
	}
	return nil
}

// CheckDumpFlags validates a dump flag combination; the "all" macro
// flag is left unexpanded (see ExpandDumpFlags).
func CheckDumpFlags(flags int) error {
	if flags&DumpAll != 0 && flags&^DumpAll != 0 {
		return fmt.Errorf("inconsistent dump flags")
	}
	if flags&DumpNone != 0 && flags&^DumpNone != 0 {
		return fmt.Errorf("inconsistent dump flags")
	}
	if flags&DumpExit != 0 && flags&DumpError != 0 {
		return fmt.Errorf("inconsistent dump flags")
	}
	return nil
}

// ExpandDumpFlags turns the "all" macro into its component flags.
func ExpandDumpFlags(flags int) int {
	if flags&DumpAll != 0 {
		flags |= DumpStartup | DumpExit | DumpSignal
	}
	return flags
}
