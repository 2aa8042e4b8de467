package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage_CryptoFailuresAreIndistinguishable(t *testing.T) {
	assert.Equal(t, UserMessage(ErrInvalidProof), UserMessage(ErrIntegrityFailure))
	assert.NotContains(t, UserMessage(ErrInvalidProof), "key")
	assert.NotContains(t, UserMessage(ErrInvalidProof), "phrase")
}

func TestUserMessage_OperationalErrorsAreSpecific(t *testing.T) {
	wrapped := fmt.Errorf("extend diary: %w", ErrNotFound)
	assert.Equal(t, "No session found for this tag.", UserMessage(wrapped))
	assert.NotEqual(t, UserMessage(ErrStoreFull), UserMessage(ErrAlreadyActive))
	assert.Equal(t, "Something went wrong.", UserMessage(errors.New("boom")))
	assert.Empty(t, UserMessage(nil))
}
