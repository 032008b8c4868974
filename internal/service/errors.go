// Package service implements the relay operations: range proxying, manifest
// rewriting, mirror failover and external media resolution.
package service

import "errors"

var (
	// ErrInvalidInput marks a missing or malformed caller-supplied parameter.
	// It is joined with the urlguard error that caused it.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream is returned when a media or manifest upstream could not be used.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrAllMirrorsFailed is returned when every configured mirror instance failed.
	ErrAllMirrorsFailed = errors.New("all mirror instances failed")
	// ErrResolveFailed is returned when the external resolver produced no usable URLs.
	ErrResolveFailed = errors.New("media resolution failed")
	// ErrAuthChallenge is returned when the resolver was asked to sign in or prove it is not a bot.
	ErrAuthChallenge = errors.New("resolver hit an authentication challenge")
	// ErrNotReady is returned by catalog lookups before the warm-up probe succeeded.
	ErrNotReady = errors.New("metadata catalog is not ready")
)
