// Package flasherr defines the error taxonomy shared by the transport,
// protocol, session and engine layers, plus user-facing hints for the CLI.
package flasherr
