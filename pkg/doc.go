// Package pkg holds the sync server, the chain tooling and the instance side
// of the benchmark.
//
// Only the sync client is meant to be reused by other test plans; it lives
// under package sdk.
package pkg
