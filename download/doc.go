// Package download retrieves remote resources for ingestion.
//
// A Fetcher returns an open Response; ReadContent then consumes the body in a
// single pass, computing its SHA-1 digest while buffering it, so the result can
// be stored by the library without reading the network stream twice.
package download
