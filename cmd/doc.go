// Package cmd implements the command-line interface for studygroup.
//
// This package provides the following commands:
//   - serve: Start the HTTP service (default when no subcommand is given)
//   - version: Display version information
//
// Every serve flag can also be set through an environment variable, and a
// .env file in the working directory is loaded first.
package cmd
