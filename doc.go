// Package lasprep prepares airborne LiDAR surveys for web visualization.
//
// It removes invalid point records from LAS/LAZ files, rewrites each file
// with a canonical LAS 1.4 point format 6 header that keeps the original
// coordinate precision, and runs the octree converter over an input tree,
// mirroring its directory layout into the output directory.
//
// # Usage
//
// Clean and convert a survey tree:
//
//	lasprep surveys/2024 /srv/pointclouds --clean
//
// Clean files in place without converting them:
//
//	lasprep clean surveys/2024 --workers 8 --sort --backup
//
// Inspect a file header:
//
//	lasprep inspect surveys/2024/block_01/tile_007.las
//
// # Key Packages
//
//	pkg/las           - LAS 1.0 to 1.4 header, VLR and point record codec
//	pkg/pointset      - Columnar point record sets with null tracking
//	internal/cleaning - Load, reconcile and write stages for one file
//	internal/batch    - Parallel cleaning of a directory tree
//	internal/mirror   - Octree converter invocation over a mirrored tree
//	internal/backup   - Compressed backups of originals
//	pkg/config        - YAML configuration with environment overrides
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics and textfile export
//
// # Configuration
//
// Configuration is read from a YAML file given with --config. Every key can
// be overridden with a LASPREP_ environment variable, for example
// LASPREP_CLEANING_WORKERS=4, and ${VAR_NAME} references inside the file are
// expanded before parsing. Write the defaults with:
//
//	lasprep config init lasprep.yaml
package lasprep
