package main

import (
	"context"
	"errors"
	"time"

	"github.com/artasov/winky-cli/pkg/werrors"
)

// Exit codes group failures the way scripts care about them: usage mistakes,
// configuration problems, auth/billing, and everything transient.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitConfig    = 3
	exitAuth      = 4
	exitCredits   = 5
	exitTransient = 6
)

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	switch werrors.CodeOf(err) {
	case werrors.ErrCodeInvalidInput:
		return exitUsage
	case werrors.ErrCodeConfigLoad, werrors.ErrCodeConfigParse, werrors.ErrCodeConfigInvalid:
		return exitConfig
	case werrors.ErrCodeUnauthorized:
		return exitAuth
	case werrors.ErrCodeInsufficientCredits:
		return exitCredits
	case werrors.ErrCodeGenerationCancelled:
		// A cancelled generation is the user's own doing, not a failure.
		return exitOK
	}
	if werrors.IsRetryable(err) {
		return exitTransient
	}
	return exitFailure
}

// userFacing prefers the error's notice text when it carries one.
func userFacing(err error) string {
	var werr *werrors.Error
	if errors.As(err, &werr) {
		return werr.Notice()
	}
	return err.Error()
}

func shutdownContext() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = cancel // bounded by the timeout; the process is exiting anyway
	return ctx
}
