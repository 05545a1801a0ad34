// Package staging removes files a previous daemon process left behind in the
// work, output, and bundle directories.
package staging
