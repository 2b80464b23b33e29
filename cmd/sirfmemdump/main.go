// Program sirfmemdump dumps, erases and reprograms the external NOR
// flash of a SiRF-family GPS receiver over its MDPROTO wire protocol:
// it transitions the receiver from NMEA or SIRF binary mode into
// internal boot mode, injects a small ARM loader, then speaks MDPROTO to
// it to read memory, call functions, and erase/program flash sectors.
//
// Caution: a reprogram that is interrupted partway, or that targets the
// wrong device, can leave the receiver unable to boot. See spec.md
// section 4.5 for the loader handshake this depends on.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"zappem.net/pub/debug/xcrc32"
	"zappem.net/pub/debug/xxd"

	"github.com/illarionov/sirfmemdump/internal/flashplan"
	"github.com/illarionov/sirfmemdump/internal/gpsmode"
	"github.com/illarionov/sirfmemdump/internal/loader"
	"github.com/illarionov/sirfmemdump/internal/memdump"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

var (
	verbosity  = flag.Int("v", 0, "verbosity 0..3 (error, prog, raw)")
	loaderPath = flag.String("l", "sirfmemdump.bin", "loader image path")
	port       = flag.String("p", "/dev/ttyp0", "serial port")
	noInject   = flag.Bool("n", false, "skip loader injection (loader already running)")
	skipBoot   = flag.Bool("i", false, "skip SIRF->InternalBoot transition")
	deviceDB   = flag.String("devicedb", "", "optional YAML overlay of extra flash device geometries")
	baud       = flag.Int("baud", 38400, "initial baud rate")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("usage: sirfmemdump [flags] <cmd> [args...]")
	}

	t, err := transport.Open(*port, *baud)
	if err != nil {
		log.Fatalf("open %s: %v", *port, err)
	}
	defer t.Close()

	sess := gpsmode.New(*port, *baud, t)

	if err := reachMemdump(sess); err != nil {
		log.Fatalf("cannot reach memdump mode: %v", err)
	}
	client := memdump.New(sess.Transport())

	if err := run(sess, client, args[0], args[1:]); err != nil {
		log.Printf("%s: %v", args[0], err)
		os.Exit(1)
	}
}

// reachMemdump assumes NMEA as the receiver's starting mode (the factory
// default) unless -i is given, in which case it assumes SIRF binary
// already selected internal boot and only the loader remains to be
// injected.
func reachMemdump(sess *gpsmode.Session) error {
	if *skipBoot {
		if *noInject {
			return sess.TransitionTo(gpsmode.Memdump)
		}
		if err := sess.TransitionTo(gpsmode.InternalBoot); err != nil {
			return err
		}
	} else {
		if err := sess.TransitionTo(gpsmode.NMEA); err != nil {
			return err
		}
		if err := sess.TransitionTo(gpsmode.InternalBoot); err != nil {
			return err
		}
	}

	if *noInject {
		return sess.ConfirmMemdump()
	}

	image, err := os.ReadFile(*loaderPath)
	if err != nil {
		return fmt.Errorf("read loader image %q: %w", *loaderPath, err)
	}
	if err := loader.Inject(sess.Transport(), image, 0); err != nil {
		return err
	}
	return sess.ConfirmMemdump()
}

func run(sess *gpsmode.Session, c *memdump.Client, verb string, args []string) error {
	switch verb {
	case "ping":
		pong, err := c.Ping()
		if err != nil {
			return err
		}
		fmt.Printf("pong: %q\n", pong)
		return nil

	case "dump":
		if len(args) != 2 {
			return fmt.Errorf("dump requires <from> <to>")
		}
		from, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		to, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		data, err := c.MemRead(from, to)
		if err != nil {
			return err
		}
		if *verbosity >= 3 {
			xxd.Print(int(from), data)
			return nil
		}
		_, err = os.Stdout.Write(data)
		return err

	case "exec":
		if len(args) != 5 {
			return fmt.Errorf("exec requires <faddr> <r0> <r1> <r2> <r3>")
		}
		faddr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		var regs [4]uint32
		for i := 0; i < 4; i++ {
			v, err := parseAddr(args[1+i])
			if err != nil {
				return err
			}
			regs[i] = v
		}
		result, err := c.Exec(faddr, regs[0], regs[1], regs[2], regs[3])
		if err != nil {
			return err
		}
		fmt.Printf("r0=0x%08x r1=0x%08x r2=0x%08x r3=0x%08x\n", result.R0, result.R1, result.R2, result.R3)
		return nil

	case "flash-info":
		info, err := c.FlashInfo()
		if err != nil {
			return err
		}
		fmt.Printf("manufacturer=0x%04x device=0x%04x size=%d bytes QRY=%v\n",
			info.ManufacturerID, info.DeviceID, info.DeviceSizeBytes(), info.HasQRY())
		return nil

	case "erase-sector":
		if len(args) != 1 {
			return fmt.Errorf("erase-sector requires <addr>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		status, err := c.EraseSector(addr)
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("target reported status 0x%02x", status)
		}
		return nil

	case "program-word":
		if len(args) != 2 {
			return fmt.Errorf("program-word requires <addr> <word>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		word, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		status, err := c.Program(addr, []byte{byte(word), byte(word >> 8)})
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("target reported status 0x%02x", status)
		}
		return nil

	case "program":
		if len(args) != 1 {
			return fmt.Errorf("program requires <file>")
		}
		firmware, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read firmware %q: %w", args[0], err)
		}
		_, crc := xcrc32.NewCRC32(firmware)
		if *verbosity >= 2 {
			log.Printf("firmware %q: %d bytes, crc32=0x%08x", args[0], len(firmware), crc)
		}
		info, err := c.FlashInfo()
		if err != nil {
			return err
		}
		table, err := flashplan.LoadDeviceDB(*deviceDB)
		if err != nil {
			return err
		}
		plan, err := flashplan.PlanErase(info, table)
		if err != nil {
			return err
		}
		return flashplan.Reprogram(c, plan, firmware)

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
