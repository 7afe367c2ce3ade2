// Package handler contains the HTTP handlers for the StageWatch API.
// Handlers parse and validate requests, delegate to services through
// narrow interfaces, and shape responses; they hold no domain logic.
package handler
