package ir

// EngineVersion is the livedoc engine version reported by the CLI.
const EngineVersion = "0.1.0"
