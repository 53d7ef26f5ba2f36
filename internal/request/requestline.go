package request

// Size limits for the request line and header section
const (
	MaxMethodLength      = 16
	MaxURILength         = 10 * 1024
	MaxFieldNameLength   = 256
	MaxFieldValueLength  = 80 * 1024
	MaxHeaderSectionSize = 112 * 1024
)

// IsSupportedMethod checks if the HTTP method is handled at all
func IsSupportedMethod(method string) bool {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

// IsSupportedVersion checks if the HTTP version is supported
func IsSupportedVersion(major, minor int) bool {
	return major == 1 && (minor == 0 || minor == 1)
}
