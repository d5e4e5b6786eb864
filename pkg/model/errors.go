package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrValidation marks malformed input or output. It is never retried.
	ErrValidation = goerr.New("validation failure")

	// ErrProvider marks a transient failure of a generative backend.
	ErrProvider = goerr.New("provider failure")

	ErrStageExhausted = goerr.New("stage exhausted")

	// ErrAuthChallenge means the publishing account needs an operator step
	// (a second factor code or a fresh token) before the same call can be retried.
	ErrAuthChallenge = goerr.New("auth challenge")

	ErrNotFound = goerr.New("not found")
)
