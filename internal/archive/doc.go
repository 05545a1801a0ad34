// Package archive bundles finished artifacts into a single zip file.
package archive
