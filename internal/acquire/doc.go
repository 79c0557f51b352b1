// Package acquire installs an addon from the registry.
//
// One acquisition runs these stages, stopping at the first failure:
//
//	normalize input -> fetch manifest -> parse -> validate -> lock addon
//	-> download <name>.tgz -> verify checksum -> extract to staging
//	-> swap staging into <root>/<name>
//
// Every stage reports through a single Outcome. Failures and cancellations
// leave neither the archive nor a partial addon directory behind.
package acquire
