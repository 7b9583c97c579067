package rustsrc

// builtinCrates lists the sysroot crates shipped with the Rust toolchain.
// These are always linkable and never appear in a Cargo.toml dependency
// table, so references to them are always considered satisfied.
var builtinCrates = map[string]bool{
	"alloc":      true,
	"core":       true,
	"proc_macro": true,
	"std":        true,
	"test":       true,
}

// IsBuiltin reports whether name is a sysroot crate.
func IsBuiltin(name string) bool {
	return builtinCrates[name]
}
