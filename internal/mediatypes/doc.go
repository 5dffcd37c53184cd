// Package mediatypes lists the file formats chromi accepts and produces.
//
// It has no dependencies so that the converter, the HTTP handlers and the
// command line tools can share one extension table without import cycles.
//
//	ext := strings.ToLower(filepath.Ext(filename))
//	if !mediatypes.IsUpload(ext) {
//	    // reject
//	}
package mediatypes
