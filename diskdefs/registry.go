package diskdefs

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

//go:embed default_diskdefs.txt
var defaultDiskdefsText string

// Registry is a named collection of disk definitions, loaded from
// cpmtools-style diskdefs text.
type Registry struct {
	defs map[string]DiskDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]DiskDef)}
}

// Defaults returns a registry preloaded with the built-in definitions.
func Defaults() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadString(defaultDiskdefsText); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile parses a diskdefs file on disk and merges its definitions in.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("diskdefs: reading %s: %w", path, err)
	}
	return r.LoadString(string(data))
}

// LoadString parses diskdefs text and merges its definitions in.
func (r *Registry) LoadString(content string) error {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var block []string
	inBlock := false

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		def, err := parseBlock(block)
		if err != nil {
			return err
		}
		r.defs[def.Name] = def
		block = nil
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inBlock {
			if strings.HasPrefix(trimmed, "diskdef ") || trimmed == "diskdef" {
				inBlock = true
				block = []string{trimmed}
			}
			continue
		}

		block = append(block, trimmed)
		if trimmed == "end" || strings.HasPrefix(trimmed, "end ") {
			if err := flush(); err != nil {
				return err
			}
			inBlock = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("diskdefs: scanning: %w", err)
	}
	return flush()
}

func parseBlock(lines []string) (DiskDef, error) {
	def := Default()

	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		var value string
		if len(fields) > 1 {
			value = fields[1]
		}

		switch key {
		case "diskdef":
			def.Name = value
		case "seclen":
			def.SecLen = atoiOr(value, def.SecLen)
		case "tracks":
			def.Tracks = atoiOr(value, def.Tracks)
		case "sectrk":
			def.SecTrk = atoiOr(value, def.SecTrk)
		case "heads":
			def.Heads = atoiOr(value, def.Heads)
		case "blocksize":
			def.BlockSize = atoiOr(value, def.BlockSize)
		case "maxdir":
			def.MaxDir = atoiOr(value, def.MaxDir)
		case "boottrk":
			def.BootTrk = atoiOr(value, def.BootTrk)
		case "dirblks":
			def.DirBlks = atoiOr(value, def.DirBlks)
		case "skew":
			def.Skew = atoiOr(value, def.Skew)
		case "skewtab":
			rest := strings.Join(fields[1:], " ")
			def.SkewTab = parseSkewTab(rest)
		case "offset":
			if strings.Contains(value, "trk") {
				n := atoiOr(strings.TrimSuffix(value, "trk"), 0)
				def.Offset = n * def.SecTrk * def.SecLen
			} else {
				def.Offset = atoiOr(value, def.Offset)
			}
		case "logicalextents":
			def.LogicalExtents = atoiOr(value, def.LogicalExtents)
		case "os":
			def.OS = parseOS(value)
		case "end":
			// terminator only
		}
	}

	if def.Name == "" {
		return DiskDef{}, fmt.Errorf("diskdefs: block has no name")
	}
	return def, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseSkewTab(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseOS(s string) OS {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "3", "3.0", "cpm3", "cpm+":
		return OSCPM3
	case "isx":
		return OSISX
	case "p2dos":
		return OSP2DOS
	case "zsys", "z-system":
		return OSZSystem
	default:
		return OSCPM22
	}
}

// Get returns the named definition.
func (r *Registry) Get(name string) (DiskDef, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Add inserts or replaces a definition.
func (r *Registry) Add(def DiskDef) {
	if def.Name != "" {
		r.defs[def.Name] = def
	}
}

// List returns every definition name, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindByCapacity returns names of definitions whose capacity falls in
// [minKB, maxKB].
func (r *Registry) FindByCapacity(minKB, maxKB int) []string {
	var out []string
	for name, d := range r.defs {
		if cap := d.CapacityKB(); cap >= minKB && cap <= maxKB {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// FindByOS returns names of definitions targeting the given OS variant.
func (r *Registry) FindByOS(os OS) []string {
	var out []string
	for name, d := range r.defs {
		if d.OS == os {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// FindByGeometry returns the first definition, in name order, whose tracks,
// sectors per track and sector size exactly match the arguments, if any.
func (r *Registry) FindByGeometry(tracks, secTrk, secLen int) (DiskDef, bool) {
	for _, name := range r.List() {
		d := r.defs[name]
		if d.Tracks == tracks && d.SecTrk == secTrk && d.SecLen == secLen {
			return d, true
		}
	}
	return DiskDef{}, false
}

// Count returns the number of definitions held.
func (r *Registry) Count() int { return len(r.defs) }
