// Package core provides the feed ingestion and channel projection pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Feed Errors (FEED001-FEED099)
//
//	FEED001 - Feed unavailable: The feed server returned an error status
//	          Action: Check the source URL and try again later
//	          Match: *FetchError with a status code
//
//	FEED002 - Feed unreachable: The feed could not be downloaded
//	          Action: Check the source URL and network connectivity
//	          Match: *FetchError without a status code
//
//	FEED003 - Feed too large: The feed exceeds the download size limit
//	          Action: Ask the feed provider for a smaller export
//	          Patterns: "feed too large"
//
// # Parse Errors (PARSE001-PARSE099)
//
//	PARSE001 - Invalid feed: The feed is not a readable CSV
//	           Action: Ensure the feed is comma-separated with a header row
//	           Match: *ParseError, Patterns: "invalid csv"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - No data yet: The channel's group has no usable snapshot
//	         Action: Refresh the group and try again
//	         Match: *MappingError
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Duplicate name        (ErrDuplicateName)
//	CFG002 - Unknown group         (ErrDanglingReference)
//	CFG003 - Duplicate column      (ErrDuplicateTargetField)
//	CFG004 - Invalid field         (ErrInvalidField)
//	CFG005 - Group in use          (ErrGroupInUse)
//	CFG006 - Invalid configuration (any other *ValidationError)
//	CFG007 - Not found             (ErrNotFound)
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Refresh in progress   (ErrRunInFlight)
//	RUN002 - System busy           (ErrPoolExhausted)
//	RUN003 - Group not scheduled   (ErrUnknownGroup)
//	RUN004 - Shutting down         (ErrRunnerStopped)
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled     Patterns: "context canceled"
//	REQ002 - Request timeout       Patterns: "context deadline exceeded", "timeout"
//	REQ003 - Malformed request     (assigned by the web layer)
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited         Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Matching
//
// Typed errors are matched first with errors.Is / errors.As, so wrapped
// errors keep their code. Remaining errors are matched case-insensitively
// against string patterns using strings.Contains; the first match wins.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// sentinelMessages maps sentinel errors (matched with errors.Is) to user messages.
// Validation reasons come first so a *ValidationError reports its reason.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrDuplicateName, UserMessage{
		Message: "An item with this name already exists",
		Action:  "Choose a different name",
		Code:    "CFG001",
	}},
	{ErrDanglingReference, UserMessage{
		Message: "The referenced group does not exist",
		Action:  "Create the group first or pick an existing one",
		Code:    "CFG002",
	}},
	{ErrDuplicateTargetField, UserMessage{
		Message: "Two fields use the same output column name",
		Action:  "Give every output column a unique name",
		Code:    "CFG003",
	}},
	{ErrInvalidField, UserMessage{
		Message: "A field is invalid or not present in the group's feed",
		Action:  "Correct the field; source fields must be one of the group's discovered fields",
		Code:    "CFG004",
	}},
	{ErrGroupInUse, UserMessage{
		Message: "The group is still used by one or more channels",
		Action:  "Remove the channels that use this group first",
		Code:    "CFG005",
	}},
	{ErrNotFound, UserMessage{
		Message: "The requested item was not found",
		Action:  "Verify the name is correct",
		Code:    "CFG007",
	}},
	{ErrRunInFlight, UserMessage{
		Message: "A refresh of this group is already in progress",
		Action:  "Wait for the current refresh to finish",
		Code:    "RUN001",
	}},
	{ErrPoolExhausted, UserMessage{
		Message: "System is busy refreshing other groups",
		Action:  "Please wait a moment and try again",
		Code:    "RUN002",
	}},
	{ErrUnknownGroup, UserMessage{
		Message: "The group is not scheduled",
		Action:  "Verify the group name is correct",
		Code:    "RUN003",
	}},
	{ErrRunnerStopped, UserMessage{
		Message: "The service is shutting down",
		Action:  "Retry once the service is back",
		Code:    "RUN004",
	}},
	{errFeedTooLarge, UserMessage{
		Message: "The feed exceeds the download size limit",
		Action:  "Ask the feed provider for a smaller export",
		Code:    "FEED003",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
	}},
}

var (
	msgFetchStatus = UserMessage{
		Message: "The feed server returned an error",
		Action:  "Check the source URL and try again later",
		Code:    "FEED001",
	}
	msgFetchNetwork = UserMessage{
		Message: "The feed could not be downloaded",
		Action:  "Check the source URL and network connectivity",
		Code:    "FEED002",
	}
	msgParse = UserMessage{
		Message: "The feed is not a readable CSV",
		Action:  "Ensure the feed is comma-separated with a header row",
		Code:    "PARSE001",
	}
	msgMapping = UserMessage{
		Message: "The channel's group has no data yet",
		Action:  "Refresh the group and try again",
		Code:    "MAP001",
	}
	msgValidation = UserMessage{
		Message: "The configuration is invalid",
		Action:  "Correct the highlighted fields and save again",
		Code:    "CFG006",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// They catch errors that lost their type, e.g. driver errors or errors
// that crossed a process boundary as text. Order matters: specific first.
var errorPatterns = []errorPattern{
	{"feed too large", UserMessage{
		Message: "The feed exceeds the download size limit",
		Action:  "Ask the feed provider for a smaller export",
		Code:    "FEED003",
	}},
	{"invalid csv", msgParse},
	{"duplicate key", UserMessage{
		Message: "An item with this name already exists",
		Action:  "Choose a different name",
		Code:    "DB001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
	}},
	{"timeout", UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	err := fmt.Errorf("save: %w", &ValidationError{Reason: ErrDuplicateName})
//	msg := MapError(err)
//	// msg.Code == "CFG001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if errors.Is(fe.Cause, errFeedTooLarge) {
			return mustSentinel(errFeedTooLarge)
		}
		if fe.StatusCode != 0 {
			return msgFetchStatus
		}
		return msgFetchNetwork
	}

	var pe *ParseError
	if errors.As(err, &pe) {
		return msgParse
	}

	var me *MappingError
	if errors.As(err, &me) {
		return msgMapping
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return msgValidation
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mustSentinel(target error) UserMessage {
	for _, sm := range sentinelMessages {
		if sm.target == target {
			return sm.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
