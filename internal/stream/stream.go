// Package stream serves validated local media files over HTTP, honoring a
// single byte-range request. Ranges stream through a fixed-size buffer with
// incremental flushes so a large span never sits in memory at once.
package stream

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const chunkSize = 8 * 1024

// Streamer writes media files to HTTP responses. The zero value is usable;
// BytesWritten, when set, receives the payload size of each completed
// response (wired to a metrics counter by the server).
type Streamer struct {
	BytesWritten func(n int64)
}

// ServeFile streams the file at path. A well-formed "bytes=start-end" Range
// header yields a 206 with the requested span; no header or a malformed one
// yields the whole file as a 200. Malformed ranges are deliberately lenient:
// some embedded players send broken headers and still expect playback.
func (s *Streamer) ServeFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	size := info.Size()

	name := filepath.Base(path)
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("Accept-Ranges", "bytes")

	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		s.copyRange(w, f, 0, size-1)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	s.copyRange(w, f, start, end)
}

// copyRange streams bytes [start, end] of f to w in chunkSize reads, flushing
// after each write. A client disconnect mid-stream ends the copy quietly.
func (s *Streamer) copyRange(w http.ResponseWriter, f *os.File, start, end int64) {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var written int64
	remaining := end - start + 1

	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := f.Read(buf[:n])
		if read > 0 {
			wrote, werr := w.Write(buf[:read])
			written += int64(wrote)
			remaining -= int64(wrote)
			if werr != nil {
				// Broken pipe from the client; nothing left to do.
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	if s.BytesWritten != nil {
		s.BytesWritten(written)
	}
}

// parseRange parses a single "bytes=start-end" header against the file size.
// The end offset is optional and defaults to the last byte. Anything else
// (multiple ranges, suffix ranges, out-of-bounds offsets) reports not-ok and
// the caller falls back to a full response.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	if header == "" {
		return 0, 0, false
	}
	rest, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(rest, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(rest, "-")
	if !found || first == "" {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end = size - 1
	if last = strings.TrimSpace(last); last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

// contentType maps a filename to a MIME type by extension, with a fallback
// table for media types the platform registry may be missing.
func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".m4v":
		return "video/x-m4v"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	}
	return "application/octet-stream"
}
