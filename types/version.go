package types

// Version is the canonical project version.
// The binary, the script API prelude and the telemetry payload schema share
// this version.
const Version = "0.4.0"
