package config

import (
	"fmt"
	"time"

	"github.com/muurk/rkflash/internal/usb"
)

const (
	// CurrentVersion is the config file format version
	CurrentVersion = 1

	defaultChunkSectors = 32
	maxChunkSectors     = 128
	defaultRetries      = 3
	defaultRetryDelay   = 20 * time.Millisecond
	defaultTimeout      = 5 * time.Second
	defaultErasePattern = 0xff
)

// Config represents the entire user configuration file.
type Config struct {
	Version  int                `yaml:"version"`
	LogLevel string             `yaml:"log_level,omitempty"` // debug, info, warn, error or off
	Transfer *Transfer          `yaml:"transfer,omitempty"`
	Profiles []*Profile         `yaml:"profiles,omitempty"` // Extra USB product IDs
	Devices  map[string]*Device `yaml:"devices,omitempty"`  // Keyed by chip name (e.g., "RK3188")
}

// Transfer tunes the USB session.
type Transfer struct {
	ChunkSectors int           `yaml:"chunk_sectors"` // Sectors per command (1-128)
	Retries      int           `yaml:"retries"`       // Attempts per chunk for timeouts
	RetryDelay   time.Duration `yaml:"retry_delay"`   // Pause between attempts (e.g., "20ms")
	Timeout      time.Duration `yaml:"timeout"`       // Per-transfer timeout (e.g., "5s")
	ErasePattern int           `yaml:"erase_pattern"` // Fill byte for erase (0-255)
}

// Profile adds a product ID that is not in the built-in table.
type Profile struct {
	ProductID     uint16 `yaml:"product_id"`
	Chip          string `yaml:"chip"`
	ReadEndpoint  int    `yaml:"read_endpoint,omitempty"`  // Defaults to 1
	WriteEndpoint int    `yaml:"write_endpoint,omitempty"` // Defaults to 2
}

// Device records what was last seen of a chip family.
type Device struct {
	Nickname     string    `yaml:"nickname,omitempty"`
	LastSeen     time.Time `yaml:"last_seen,omitempty"`
	FlashSectors uint32    `yaml:"flash_sectors,omitempty"`
	Manufacturer string    `yaml:"manufacturer,omitempty"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		Transfer: defaultTransfer(),
		Devices:  make(map[string]*Device),
	}
}

func defaultTransfer() *Transfer {
	return &Transfer{
		ChunkSectors: defaultChunkSectors,
		Retries:      defaultRetries,
		RetryDelay:   defaultRetryDelay,
		Timeout:      defaultTimeout,
		ErasePattern: defaultErasePattern,
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}

	t := c.Transfer
	if t.ChunkSectors < 1 || t.ChunkSectors > maxChunkSectors {
		return fmt.Errorf("transfer.chunk_sectors %d outside 1..%d", t.ChunkSectors, maxChunkSectors)
	}
	if t.Retries < 1 {
		return fmt.Errorf("transfer.retries must be at least 1, got %d", t.Retries)
	}
	if t.RetryDelay < 0 || t.Timeout <= 0 {
		return fmt.Errorf("transfer.retry_delay and transfer.timeout must be positive")
	}
	if t.ErasePattern < 0 || t.ErasePattern > 0xff {
		return fmt.Errorf("transfer.erase_pattern %d is not a byte", t.ErasePattern)
	}

	for i, p := range c.Profiles {
		if p.ProductID == 0 {
			return fmt.Errorf("profiles[%d]: product_id is required", i)
		}
		for _, ep := range []int{p.ReadEndpoint, p.WriteEndpoint} {
			if ep < 0 || ep > 15 {
				return fmt.Errorf("profiles[%d]: endpoint %d outside 1..15", i, ep)
			}
		}
	}
	return nil
}

// USBProfiles returns the built-in product table extended by Profiles.
func (c *Config) USBProfiles() usb.Profiles {
	extra := make([]usb.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		prof := usb.Profile{
			ProductID:     p.ProductID,
			Chip:          p.Chip,
			ReadEndpoint:  p.ReadEndpoint,
			WriteEndpoint: p.WriteEndpoint,
		}
		if prof.Chip == "" {
			prof.Chip = fmt.Sprintf("%04x", p.ProductID)
		}
		if prof.ReadEndpoint == 0 {
			prof.ReadEndpoint = 1
		}
		if prof.WriteEndpoint == 0 {
			prof.WriteEndpoint = 2
		}
		extra = append(extra, prof)
	}
	return usb.DefaultProfiles().With(extra...)
}

// EnsureDevice returns the record for chip, creating it if needed.
func (c *Config) EnsureDevice(chip string) *Device {
	if c.Devices == nil {
		c.Devices = make(map[string]*Device)
	}
	if d, ok := c.Devices[chip]; ok {
		return d
	}
	d := &Device{}
	c.Devices[chip] = d
	return d
}

// UpdateDeviceLastSeen records the flash geometry reported by a chip.
func (c *Config) UpdateDeviceLastSeen(chip string, sectors uint32, manufacturer string) {
	d := c.EnsureDevice(chip)
	d.LastSeen = time.Now()
	d.FlashSectors = sectors
	d.Manufacturer = manufacturer
}
