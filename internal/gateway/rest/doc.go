// Package rest adapts the chat platform's REST API to the gateway interface.
package rest
