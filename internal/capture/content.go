package capture

import (
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType resolves the MIME type of an upload from its declared
// type, its file extension and finally its leading bytes. A claimed raster or
// PDF type must agree with the sniffed bytes; otherwise the sniffed type is
// returned so that a mislabeled upload is rejected as unsupported.
func DetectContentType(data []byte, declared, filename string) string {
	if IsHEIC(data) {
		return "image/heic"
	}

	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}

	claimed := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(claimed, ";"); i >= 0 {
		claimed = strings.TrimSpace(claimed[:i])
	}
	if claimed == "" || claimed == "application/octet-stream" {
		claimed = extensionType(filename)
	}
	if claimed == "" {
		return sniffed
	}

	switch claimed {
	case "image/jpeg", "image/png", "image/gif", "application/pdf":
		if sniffed != claimed {
			return sniffed
		}
	}
	return claimed
}

func extensionType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return ""
}

// Supported reports whether the scanner can turn the type into PNG
func Supported(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif", "image/heic", "image/heif", "application/pdf":
		return true
	}
	return false
}

// IsHEIC checks the ftyp box brand used by HEIC/HEIF files (common on iPhones)
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// IsHEICType checks a MIME type for HEIC/HEIF
func IsHEICType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	return strings.Contains(contentType, "heic") || strings.Contains(contentType, "heif")
}
