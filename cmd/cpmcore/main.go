// cmd/cpmcore is a thin front-end over the session package: it parses
// flags, loads a ROM image and/or disk images, pumps the controlling
// terminal in raw mode, and runs the core's execution loop until the
// guest halts. None of this logic lives in the core packages themselves.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/romwbw/cpmcore/bios"
	"github.com/romwbw/cpmcore/console"
	"github.com/romwbw/cpmcore/diskdefs"
	"github.com/romwbw/cpmcore/diskimage"
	"github.com/romwbw/cpmcore/session"
	"github.com/romwbw/cpmcore/version"
)

var (
	romPath   string
	diskSpecs []string
	ramBanks  int
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "cpmcore",
	Short: "Run a CP/M or RomWBW guest image",
	Long:  version.GetVersionBanner() + "\nA banked-memory Z80 BIOS/HBIOS emulator core.",
	RunE:  run,
}

func main() {
	rootCmd.Flags().StringVar(&romPath, "rom", "", "RomWBW ROM image to load (enables HBIOS boot)")
	rootCmd.Flags().StringArrayVar(&diskSpecs, "disk", nil, "unit:path, repeatable; unit 0 is the boot disk when --rom is absent")
	rootCmd.Flags().IntVar(&ramBanks, "ram-banks", 8, "number of 32 KiB RAM banks to allocate")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "verbose trap-level logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	if debugFlag || os.Getenv("DEBUG") != "" {
		lvl.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	sess := session.New(logger, session.WithDebug(debugFlag), session.WithRAMBanks(ramBanks))

	units, err := parseDiskSpecs(diskSpecs)
	if err != nil {
		return err
	}

	for unit, path := range units {
		backend, err := diskimage.Open(path, false)
		if err != nil {
			return fmt.Errorf("cpmcore: opening %s for unit %d: %w", path, unit, err)
		}
		drv := bios.NewDrive(backend, diskdefs.Default())
		if err := sess.MountDiskUnit(unit, drv); err != nil {
			return fmt.Errorf("cpmcore: mounting unit %d: %w", unit, err)
		}
	}

	if romPath != "" {
		rom, err := os.ReadFile(romPath)
		if err != nil {
			return fmt.Errorf("cpmcore: reading ROM %s: %w", romPath, err)
		}
		if err := sess.LoadROM(rom); err != nil {
			return fmt.Errorf("cpmcore: loading ROM: %w", err)
		}
	} else {
		if _, ok := units[0]; !ok {
			return fmt.Errorf("cpmcore: no --rom and no unit 0 disk to cold-boot from")
		}
		drive := sess.BIOS.Drive(0)
		if drive == nil {
			return fmt.Errorf("cpmcore: unit 0 failed to mount as a BIOS drive")
		}
		if _, err := sess.ColdBootFromDisk(drive.Backend); err != nil {
			return fmt.Errorf("cpmcore: cold boot: %w", err)
		}
	}

	term, err := newTermConsole()
	if err != nil {
		return err
	}
	defer term.Close()

	sess.SetOutput(console.NewWriterOutput(os.Stdout))

	ctx := context.Background()
	for {
		err := sess.RunUntilIdle(ctx)
		if err != nil {
			if errors.Is(err, session.ErrHalted) {
				return nil
			}
			return fmt.Errorf("cpmcore: %w", err)
		}
		if sess.WaitingForInput() {
			term.Drain(sess.PushInput)
			time.Sleep(idlePause)
		}
	}
}

// parseDiskSpecs turns a list of "unit:path" flag values into a unit-indexed
// map, defaulting an unprefixed path (no colon) to unit 0.
func parseDiskSpecs(specs []string) (map[int]string, error) {
	out := map[int]string{}
	for _, spec := range specs {
		idx := strings.IndexByte(spec, ':')
		if idx < 0 {
			out[0] = spec
			continue
		}
		unit, err := strconv.Atoi(spec[:idx])
		if err != nil {
			return nil, fmt.Errorf("cpmcore: invalid disk unit in %q: %w", spec, err)
		}
		out[unit] = spec[idx+1:]
	}
	return out, nil
}
