// Package textutil derives filesystem-safe names from media titles.
package textutil
