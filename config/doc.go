// Package config defines named OAuth2 client configurations and the
// resolution rules that map a (possibly empty) configuration name to a
// fully-specified entry.
//
// A Store holds an immutable set of configurations with at most one entry
// marked as the default. Resolution by an empty or unknown name falls back to
// that default; when no default exists, resolution reports the configuration
// as unavailable rather than failing hard, leaving the decision to the
// caller.
//
// Configurations can be constructed directly, decoded from the process
// environment (FromEnv) or loaded from a JSON document that is re-read when
// the file changes on disk (NewFileStore).
package config
