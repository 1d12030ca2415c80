// Package errs implements the engine's tagged-variant error taxonomy: a
// single Error type carrying a Kind, a message, an optional source chain,
// and structured context, plus a UserFriendlyError projection for surfaces
// that render errors to a human.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an Error with the category of failure.
type Kind string

const (
	KindConfig       Kind = "config"
	KindLLM          Kind = "llm"
	KindHTTP         Kind = "http"
	KindTool         Kind = "tool"
	KindInvalidInput Kind = "invalid_input"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindNotFound     Kind = "not_found"
	KindIO           Kind = "io"
	KindJSON         Kind = "json"
	KindAgent        Kind = "agent"
	KindCache        Kind = "cache"
	KindStorage      Kind = "storage"
	KindOther        Kind = "other"
)

// Error is the engine's tagged-variant error. Kind-specific fields
// (Provider, Status, URL, ToolName, Field, Seconds, Resource, Path) are
// populated only when relevant to Kind; zero value means "not applicable".
type Error struct {
	Kind     Kind
	Message  string
	Cause    error
	Provider string // KindLLM
	Status   int    // KindHTTP
	URL      string // KindHTTP
	ToolName string // KindTool
	Field    string // KindInvalidInput
	Seconds  int    // KindTimeout
	Resource string // KindNotFound
	Path     string // KindIO
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s]", e.Kind))
	switch e.Kind {
	case KindLLM:
		if e.Provider != "" {
			sb.WriteString(fmt.Sprintf(" provider=%s", e.Provider))
		}
	case KindHTTP:
		if e.Status != 0 {
			sb.WriteString(fmt.Sprintf(" status=%d", e.Status))
		}
		if e.URL != "" {
			sb.WriteString(fmt.Sprintf(" url=%s", e.URL))
		}
	case KindTool:
		if e.ToolName != "" {
			sb.WriteString(fmt.Sprintf(" tool=%s", e.ToolName))
		}
	case KindInvalidInput:
		if e.Field != "" {
			sb.WriteString(fmt.Sprintf(" field=%s", e.Field))
		}
	case KindTimeout:
		if e.Seconds != 0 {
			sb.WriteString(fmt.Sprintf(" seconds=%d", e.Seconds))
		}
	case KindNotFound:
		if e.Resource != "" {
			sb.WriteString(fmt.Sprintf(" resource=%s", e.Resource))
		}
	case KindIO:
		if e.Path != "" {
			sb.WriteString(fmt.Sprintf(" path=%s", e.Path))
		}
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	} else if e.Cause != nil {
		sb.WriteString(": " + e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Cause: cause, Message: message}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Category is the small set of UI-facing error categories.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit     Category = "rate_limit"
	CategoryNetwork       Category = "network"
	CategoryUserInput     Category = "user_input"
	CategoryToolExecution Category = "tool_execution"
	CategoryInternal      Category = "internal"
	CategoryResourceUnavailable Category = "resource_unavailable"
	CategoryCancellation  Category = "cancellation"
)

// UserFriendlyError is the projection that reaches the UI: a title, a
// category, and zero or more suggested remediations.
type UserFriendlyError struct {
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Detail      string   `json:"detail"`
	Suggestions []string `json:"suggestions,omitempty"`
	context     map[string]any
}

// WithContext attaches a key/value pair of structured detail, available to
// machine consumers of the JSON output format but not rendered in Detail.
func (u *UserFriendlyError) WithContext(key string, val any) *UserFriendlyError {
	if u.context == nil {
		u.context = make(map[string]any)
	}
	u.context[key] = val
	return u
}

// Context returns the structured detail map attached via WithContext.
func (u *UserFriendlyError) Context() map[string]any { return u.context }

// Friendly classifies err into a UserFriendlyError. Errors that are not an
// *Error are classified as internal with no suggestions.
func Friendly(err error) *UserFriendlyError {
	if err == nil {
		return nil
	}
	e, ok := As(err)
	if !ok {
		return &UserFriendlyError{
			Category: CategoryInternal,
			Title:    "Unexpected error",
			Detail:   err.Error(),
		}
	}

	switch e.Kind {
	case KindConfig:
		return &UserFriendlyError{
			Category: CategoryConfiguration,
			Title:    "Configuration problem",
			Detail:   e.Error(),
			Suggestions: []string{
				"Check the configuration file for syntax errors",
				"Verify required fields are present",
			},
		}
	case KindLLM:
		if e.Status == 401 || e.Status == 403 {
			return &UserFriendlyError{
				Category: CategoryAuthentication,
				Title:    "Authentication failed",
				Detail:   e.Error(),
				Suggestions: []string{
					"Verify the API key for this provider",
					"Check credential resolution order (CLI, env, config, keychain, OAuth)",
				},
			}
		}
		return &UserFriendlyError{
			Category: CategoryNetwork,
			Title:    "Provider request failed",
			Detail:   e.Error(),
		}
	case KindHTTP:
		if e.Status == 429 {
			return &UserFriendlyError{
				Category: CategoryRateLimit,
				Title:    "Rate limited",
				Detail:   e.Error(),
				Suggestions: []string{"Wait and retry", "Lower request concurrency"},
			}
		}
		if e.Status == 401 || e.Status == 403 {
			return &UserFriendlyError{
				Category: CategoryAuthentication,
				Title:    "Authentication failed",
				Detail:   e.Error(),
			}
		}
		return &UserFriendlyError{Category: CategoryNetwork, Title: "Network error", Detail: e.Error()}
	case KindTool:
		return &UserFriendlyError{
			Category: CategoryToolExecution,
			Title:    fmt.Sprintf("Tool %q failed", e.ToolName),
			Detail:   e.Error(),
		}
	case KindInvalidInput:
		return &UserFriendlyError{Category: CategoryUserInput, Title: "Invalid input", Detail: e.Error()}
	case KindTimeout:
		return &UserFriendlyError{
			Category: CategoryResourceUnavailable,
			Title:    "Operation timed out",
			Detail:   e.Error(),
		}
	case KindCancelled:
		return &UserFriendlyError{Category: CategoryCancellation, Title: "Cancelled", Detail: e.Error()}
	case KindNotFound:
		return &UserFriendlyError{Category: CategoryUserInput, Title: "Not found", Detail: e.Error()}
	case KindIO, KindStorage, KindCache:
		return &UserFriendlyError{Category: CategoryResourceUnavailable, Title: "Resource unavailable", Detail: e.Error()}
	default:
		return &UserFriendlyError{Category: CategoryInternal, Title: "Internal error", Detail: e.Error()}
	}
}

// classifyByPattern infers a Kind from error text when the error was not
// constructed as an *Error (e.g. it came from a third-party library).
// Mirrors the string-pattern classification idiom used for tool errors.
func classifyByPattern(err error) Kind {
	if err == nil {
		return KindOther
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(s, "canceled") || strings.Contains(s, "cancelled"):
		return KindCancelled
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "refused"):
		return KindHTTP
	case strings.Contains(s, "not found"):
		return KindNotFound
	default:
		return KindOther
	}
}

// Classify wraps a foreign error into an *Error, inferring Kind from its
// text when none was supplied.
func Classify(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return &Error{Kind: classifyByPattern(err), Cause: err, Message: err.Error()}
}
