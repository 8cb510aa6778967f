// Package discovery finds Rockchip devices on the USB bus and rkflash event
// servers on the local network.
//
// # USB Detection
//
// A Scanner polls a usb.Enumerator. Devices are listed by vendor 0x2207
// and a known product ID; nothing is opened, so detection can run in a
// loop while another program holds the device.
//
//	scanner := discovery.NewScanner(bus)
//	scanner.Timeout = 30 * time.Second
//	handle, err := scanner.WaitForDeviceWithContext(ctx)
//
// Detect treats several attached devices as an error rather than picking
// one.
//
// # Event Servers
//
// An rkflash instance started with --advertise registers a "_rkflash._tcp"
// service. A Browser lists those peers so a monitor can attach to the
// event stream without knowing the address.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Firewall must allow mDNS (UDP port 5353)
package discovery
