package shared

// Version is reported in every log line of the CLI.
const Version = "0.3.0"
