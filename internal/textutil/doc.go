// Package textutil sanitizes user-supplied text for filenames.
package textutil
