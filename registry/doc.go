// Package registry holds the set of libraries served by a process.
//
// A Registry maps library ids to libraries and is read-only after it is
// built. Libraries are usually declared in a YAML file and opened through the
// storage backend factory:
//
//	libraries:
//	  - id: Colors
//	    location: file:///var/lib/sbs/Colors
//	  - id: Archive
//	    location: sqlite:///var/lib/sbs/Archive
//	  - id: Shared
//	    location: aws://media-bucket/sbs-entries?region=eu-west-1
package registry
