// Package config provides configuration management for lasprep.
//
// A single Config structure is organized into sections:
//
//   - Converter: octree converter executable and viewer base URL
//   - Cleaning: worker count, sorting, debug dimensions, point-count override
//   - LAZ: laszip executable and temp directory
//   - Backup: compressed copies of files cleaned in place
//   - Disk: free-space warning threshold
//   - Observability: logging, metrics textfile, report file, tracing
//
// # Loading
//
// Load reads a YAML file over Default(), substitutes ${VAR_NAME} references
// from the environment, applies LASPREP_* overrides and validates:
//
//	cfg, err := config.Load("lasprep.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// The CLI builds its own viper instance with NewViper, binds its flags to
// the matching keys and calls LoadWith, so flags take precedence over the
// environment and the file.
//
// # Environment Variable Substitution
//
//	# lasprep.yaml
//	converter:
//	  path: ${POTREE_HOME}/build/PotreeConverter
//	laz:
//	  laszip_path: /usr/local/bin/laszip
package config
