// Package config provides user configuration management for rkflash.
//
// This package manages a YAML configuration file holding transfer tuning,
// extra USB product IDs, the default log level, and a short record of the
// chips seen. Command line flags override what the file says.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/rkflash/config.yaml or $HOME/.config/rkflash/config.yaml
//   - macOS: $HOME/.config/rkflash/config.yaml
//   - Windows: %LOCALAPPDATA%\rkflash\config.yaml
//
// # Example File
//
//	version: 1
//	log_level: info
//	transfer:
//	  chunk_sectors: 64
//	  retries: 5
//	  retry_delay: 50ms
//	  timeout: 10s
//	  erase_pattern: 255
//	profiles:
//	  - product_id: 0x350a
//	    chip: RK3568
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bus := usb.NewBus(usb.WithProfiles(cfg.USBProfiles()))
package config
