// Package mcpmongo exposes the collections of one MongoDB database as MCP
// resources and a filtered "query" tool, served over a newline-delimited
// stdio channel. Every supported request runs through a pipeline that opens
// an output-gate suppression window, connects to the store on demand through
// storemgr, and converts any failure into a structurally valid result, so a
// client always receives exactly one well-formed response per request.
package mcpmongo
