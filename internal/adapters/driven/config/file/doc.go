// Package file stores settings in ~/.ratebook/config.toml, one TOML table
// per section:
//
//	[storage]
//	backend = "sqlite"
//
//	[approval]
//	required_roles = ["product_manager", "compliance"]
//
// Variables named RATEBOOK_<SECTION>_<FIELD> override the file.
package file
