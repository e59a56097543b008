// Package commands defines the bqp CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init              Write a default config file
//   - pair              Show our code, read the contact's and pair
//   - keys rotate       Rotate every key set to the current period
//   - keys remove       Erase the key sets of a contact
//   - keys next-tag     Allocate an outgoing stream and print its tag
//   - keys recognize    Look up the contact behind an incoming tag
//
// # Implementation
//
// The root command loads the config, sets up logging and opens the transport
// key store for the configured backend before any subcommand runs. Storage
// clients are closed after the command returns.
package commands
