// Package demo bundles sample document types: CUE schemas compiled at
// startup and the Go programs that drive them.
//
// The samples back the CLI's run command, the scenario tests and the
// examples in the README:
//
//   - counter: direct channels, policy, private, formula and bubble fields
//   - lobby:   queued channels consumed by await inside a state machine
//   - looper:  timed transitions, rewind and the goodwill budget
//   - vault:   attachments and blind sends
package demo
