package llmerrors

import (
	"regexp"
	"strconv"
	"strings"
)

var statusPattern = regexp.MustCompile(`(?i)(?:status(?: code)?[:\s]+|http )(\d{3})`)

// ExtractStatusCode pulls an HTTP status code out of an SDK error string.
// Provider SDKs embed status codes in error messages rather than exposing
// them structurally. Returns 0 when no code is found.
func ExtractStatusCode(errStr string) int {
	match := statusPattern.FindStringSubmatch(errStr)
	if match == nil {
		// Bare "429" style prefixes appear in some SDK errors.
		fields := strings.Fields(errStr)
		for _, f := range fields {
			f = strings.Trim(f, ":,")
			if len(f) == 3 {
				if code, err := strconv.Atoi(f); err == nil && code >= 400 && code < 600 {
					return code
				}
			}
		}
		return 0
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return code
}

// ClassifyStatusCode maps an HTTP status code to an error type.
// Unrecognized codes map to ErrorTypeUnknown.
func ClassifyStatusCode(code int) ErrorType {
	switch code {
	case 401, 403:
		return ErrorTypeAuth
	case 429:
		return ErrorTypeRateLimit
	case 400, 413, 422:
		return ErrorTypeBadPrompt
	case 500, 502, 503, 504, 529:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}
