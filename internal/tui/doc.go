// Package tui implements the full-screen monitor used by "rkflash monitor"
// on a terminal.
//
// The monitor has two screens:
//
//   - Picker: browses the network for advertised event streams (mDNS,
//     _rkflash._tcp) and lists them; a URL can also be typed by hand.
//   - Dashboard: follows one stream and shows a progress bar per
//     operation, with the outcome once it finishes.
//
// Browsing and subscribing are injected through Options so the models can
// be driven without a network. Models follow the Bubble Tea Elm
// architecture and every screen renders through RenderApplicationContainer.
package tui
