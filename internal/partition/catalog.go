package partition

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/muurk/rkflash/internal/flasherr"
)

// ParameterName is the pseudo-partition that addresses the parameter block
const ParameterName = "parameter"

// partitionPattern matches one "size@offset(name)" token of an mtdparts list
var partitionPattern = regexp.MustCompile(`(-|0x[0-9a-fA-F]+)@(0x[0-9a-fA-F]+)\((.*?)\)`)

// Entry is one named partition
type Entry struct {
	Name     string
	StartLBA uint32
	Sectors  uint32
	Flags    []string // e.g. "grow" from "userdata:grow"
}

// Bytes returns the partition size in bytes
func (e Entry) Bytes() int64 {
	return int64(e.Sectors) * 512
}

// EndLBA returns the first sector after the partition
func (e Entry) EndLBA() uint64 {
	return uint64(e.StartLBA) + uint64(e.Sectors)
}

// HasFlag reports whether the partition carries the given flag
func (e Entry) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// String returns a human-readable representation of the entry
func (e Entry) String() string {
	return fmt.Sprintf("%-12s (0x%08X @ 0x%08X) %6d MiB", e.Name, e.Sectors, e.StartLBA, e.Bytes()>>20)
}

// Catalog is the parsed partition table. It is read-only after Parse.
type Catalog struct {
	entries    []Entry
	byName     map[string]int
	properties map[string]string
	keys       []string
}

// ParseImage builds a catalog from a block read off the device. Unlike
// Parse it requires the PARM marker and a valid checksum.
func ParseImage(raw []byte, flashSectors uint32) (*Catalog, error) {
	text, err := DecodeParameter(raw)
	if err != nil {
		return nil, err
	}
	return Parse(text, flashSectors)
}

// Parse builds a catalog from a parameter block. raw may be a PARM image (as
// stored at LBA 0) or bare parameter text. flashSectors resolves "-" sizes.
// Either the whole table parses or an error is returned.
func Parse(raw []byte, flashSectors uint32) (*Catalog, error) {
	text := raw
	if IsParameterImage(raw) {
		var err error
		if text, err = DecodeParameter(raw); err != nil {
			return nil, err
		}
	}

	c := &Catalog{
		byName:     make(map[string]int),
		properties: make(map[string]string),
	}

	var cmdline string
	found := false
	sc := bufio.NewScanner(bytes.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, dup := c.properties[key]; !dup {
			c.keys = append(c.keys, key)
		}
		c.properties[key] = strings.TrimSpace(value)
		if key == "CMDLINE" && !found {
			cmdline = value
			found = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, flasherr.Wrap(flasherr.ErrTypeInvalidPartitionTable, "parse partitions", err)
	}
	if !found {
		return nil, flasherr.New(flasherr.ErrTypeInvalidPartitionTable, "parse partitions",
			"no CMDLINE line in parameter block")
	}

	for _, m := range partitionPattern.FindAllStringSubmatch(cmdline, -1) {
		entry, err := parseEntry(m[1], m[2], m[3], flashSectors)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byName[entry.Name]; dup {
			return nil, flasherr.Newf(flasherr.ErrTypeDuplicatePartition, "parse partitions",
				"partition %q is defined more than once", entry.Name)
		}
		c.byName[entry.Name] = len(c.entries)
		c.entries = append(c.entries, entry)
	}

	return c, nil
}

func parseEntry(size, offset, name string, flashSectors uint32) (Entry, error) {
	start, err := strconv.ParseUint(offset[2:], 16, 32)
	if err != nil {
		return Entry{}, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "parse partitions",
			"bad offset %q for %q", offset, name)
	}

	var sectors uint64
	if size == "-" {
		if uint64(flashSectors) <= start {
			return Entry{}, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "parse partitions",
				"partition %q starts at 0x%08X, beyond flash end 0x%08X", name, start, flashSectors)
		}
		sectors = uint64(flashSectors) - start
	} else {
		sectors, err = strconv.ParseUint(size[2:], 16, 32)
		if err != nil {
			return Entry{}, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "parse partitions",
				"bad size %q for %q", size, name)
		}
	}

	parts := strings.Split(name, ":")
	entry := Entry{
		Name:     parts[0],
		StartLBA: uint32(start),
		Sectors:  uint32(sectors),
	}
	if entry.Name == "" {
		return Entry{}, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "parse partitions",
			"unnamed partition at 0x%08X", start)
	}
	for _, f := range parts[1:] {
		if f != "" {
			entry.Flags = append(entry.Flags, f)
		}
	}
	return entry, nil
}

// Resolve looks up a partition by exact, case-sensitive name. A leading
// "@" is accepted.
func (c *Catalog) Resolve(name string) (Entry, error) {
	name = strings.TrimPrefix(name, "@")
	i, ok := c.byName[name]
	if !ok {
		return Entry{}, flasherr.Newf(flasherr.ErrTypePartitionNotFound, "resolve",
			"no partition named %q", name)
	}
	return c.entries[i], nil
}

// Entries returns the partitions in table order
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of partitions
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Property returns a "KEY: value" line from the parameter block, such as
// FIRMWARE_VER or MACHINE_MODEL.
func (c *Catalog) Property(key string) (string, bool) {
	v, ok := c.properties[key]
	return v, ok
}

// PropertyKeys returns the property keys in file order
func (c *Catalog) PropertyKeys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}
