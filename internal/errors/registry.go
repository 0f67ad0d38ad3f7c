package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (P100-P119)
	// ============================================

	"P100": {
		Category:   CategoryConfig,
		Message:    "Invalid portal.json",
		Detail:     "The configuration file could not be parsed.",
		Suggestion: "Check that portal.json is valid JSON",
	},
	"P101": {
		Category: CategoryConfig,
		Message:  "Invalid server address",
		Detail:   "The listen host or port is out of range.",
	},
	"P102": {
		Category:   CategoryConfig,
		Message:    "Invalid backend URL",
		Detail:     "backend.url must be an absolute http or https URL.",
		Suggestion: "Set backend.url in portal.json or PORTAL_BACKEND_URL",
	},
	"P103": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations use Go syntax such as \"10s\" or \"1m30s\".",
	},
	"P104": {
		Category: CategoryConfig,
		Message:  "Invalid log configuration",
		Detail:   "log.level must be debug, info, warn or error and log.format must be text or json.",
	},
	"P105": {
		Category: CategoryConfig,
		Message:  "Invalid environment variable",
		Detail:   "A PORTAL_* environment variable could not be parsed.",
	},
	"P106": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file given on the command line does not exist.",
		Suggestion: "Omit --config to run with defaults, or run 'portal init'",
	},
	"P107": {
		Category: CategoryConfig,
		Message:  "Invalid tab settings",
		Detail:   "tabs.max must be positive and tabs.cookie must not be empty.",
	},

	// ============================================
	// Storage Errors (P120-P139)
	// ============================================

	"P120": {
		Category:   CategoryStorage,
		Message:    "Unknown storage driver",
		Detail:     "storage.driver must be one of memory, file, sqlite, postgres, mysql, redis or s3.",
		Suggestion: "Set storage.driver in portal.json or PORTAL_STORAGE_DRIVER",
	},
	"P121": {
		Category: CategoryStorage,
		Message:  "Storage unavailable",
		Detail:   "The storage backend could not be opened or did not answer.",
	},

	// ============================================
	// Backend Errors (P140-P159)
	// ============================================

	"P140": {
		Category: CategoryBackend,
		Message:  "Backend client setup failed",
		Detail:   "The API client could not be created from the configuration.",
	},

	// ============================================
	// Route Errors (P160-P179)
	// ============================================

	"P160": {
		Category:   CategoryRoutes,
		Message:    "Invalid route table",
		Detail:     "The route table breaks an invariant: login, forbidden and callback paths must be public, and every admin route must require the admin role.",
		Suggestion: "Run 'portal routes' to inspect the effective table",
	},
	"P161": {
		Category: CategoryRoutes,
		Message:  "Invalid navigation target",
		Detail:   "The target is not a root-relative path.",
	},

	// ============================================
	// CLI Errors (P180-P199)
	// ============================================

	"P180": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
	},
	"P181": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
	"P182": {
		Category:   CategoryCLI,
		Message:    "Config file exists",
		Detail:     "Refusing to overwrite an existing configuration file.",
		Suggestion: "Use --force to overwrite it",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
