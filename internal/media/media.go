// Package media classifies module sources into media types from their path
// extension and, when available, the content-type header served by the origin.
package media

import (
	"path"
	"strings"
)

// Type identifies the language or format of a module's source.
type Type int

const (
	Unknown Type = iota
	JavaScript
	JSX
	TypeScript
	TSX
	JSON
	Wasm
)

func (t Type) String() string {
	switch t {
	case JavaScript:
		return "JavaScript"
	case JSX:
		return "JSX"
	case TypeScript:
		return "TypeScript"
	case TSX:
		return "TSX"
	case JSON:
		return "JSON"
	case Wasm:
		return "Wasm"
	default:
		return "Unknown"
	}
}

// FromPath derives a media type from the file extension alone.
func FromPath(p string) Type {
	switch strings.ToLower(path.Ext(p)) {
	case ".ts":
		return TypeScript
	case ".tsx":
		return TSX
	case ".js", ".cjs":
		return JavaScript
	case ".jsx":
		return JSX
	case ".json":
		return JSON
	case ".wasm":
		return Wasm
	default:
		return Unknown
	}
}

// Classify maps a path and an optional content-type header to a media type
// and, when the header declares one, a charset label. An empty contentType
// means no header was available and the extension alone decides.
//
// Servers routinely mislabel TypeScript-family sources, so for script-class
// content types the extension is authoritative for the JSX/TSX distinction
// and a .ts/.tsx extension elevates a JavaScript-class header to the
// TypeScript-class type.
func Classify(p, contentType string) (Type, string) {
	if contentType == "" {
		return FromPath(p), ""
	}

	// The header may carry parameters after the media type itself.
	segments := strings.Split(contentType, ";")
	ct := strings.ToLower(strings.TrimSpace(segments[0]))

	var mt Type
	switch ct {
	case "application/typescript",
		"text/typescript",
		"video/vnd.dlna.mpeg-tts",
		"video/mp2t",
		"application/x-typescript":
		mt = scriptExtension(p, TypeScript)
	case "application/javascript",
		"text/javascript",
		"application/ecmascript",
		"text/ecmascript",
		"application/x-javascript",
		"application/node":
		mt = scriptExtension(p, JavaScript)
	case "application/json", "text/json":
		mt = JSON
	case "application/wasm":
		mt = Wasm
	case "text/plain", "application/octet-stream":
		mt = FromPath(p)
	default:
		mt = Unknown
	}

	var charset string
	for _, seg := range segments[1:] {
		if v, ok := strings.CutPrefix(strings.TrimSpace(seg), "charset="); ok {
			charset = v
			break
		}
	}

	return mt, charset
}

// scriptExtension resolves the final type for script-class content types,
// letting the extension win for the X variants and for .ts under a
// JavaScript-class header.
func scriptExtension(p string, fallback Type) Type {
	switch strings.ToLower(path.Ext(p)) {
	case ".jsx":
		return JSX
	case ".tsx":
		return TSX
	case ".ts":
		if fallback == JavaScript {
			return TypeScript
		}
		return fallback
	default:
		return fallback
	}
}
