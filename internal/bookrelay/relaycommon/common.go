// Package relaycommon holds the booking types, validation rules and small helpers
// shared by the bookrelay server and its workers.
package relaycommon

// DefaultConfigFile is used when no configuration file is given on the command line.
const DefaultConfigFile = "/etc/bookrelay/bookrelay.conf"

// EnvSessionID is set in the environment of every out-of-process worker.
const EnvSessionID = "BOOKRELAY_SESSION_ID"

// WorkerSubcommand is the CLI verb that runs a booking worker on stdin/stdout.
const WorkerSubcommand = "worker"
