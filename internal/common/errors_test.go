package common

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, CodeEncryptedDocument,
		ErrorCode(NewAppError(CodeEncryptedDocument, "document is encrypted", ErrEncryptedDocument)))
	assert.Equal(t, CodePageLimitExceeded, ErrorCode(fmt.Errorf("decode: %w", ErrPageLimitExceeded)))
	assert.Equal(t, CodeInternal, ErrorCode(fmt.Errorf("boom")))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{NewAppError(CodeFileTooLarge, "size exceeds 10 MB", ErrFileTooLarge), codes.InvalidArgument},
		{ErrUnsupportedType, codes.InvalidArgument},
		{fmt.Errorf("get: %w", ErrNotFound), codes.NotFound},
		{fmt.Errorf("put: %w", ErrStoreUnavailable), codes.Unavailable},
		{ErrQueueUnavailable, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		st, ok := status.FromError(ToStatus(tt.err))
		assert.True(t, ok)
		assert.Equal(t, tt.code, st.Code(), tt.err.Error())
	}

	st, _ := status.FromError(ToStatus(ErrNotFound))
	assert.Equal(t, "job not found or expired", st.Message())
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsDecodeError(NewAppError(CodeCorruptDocument, "bad", ErrCorruptDocument)))
	assert.False(t, IsDecodeError(ErrStoreUnavailable))
	assert.True(t, IsIntakeError(fmt.Errorf("x: %w", ErrFileTooLarge)))
	assert.Equal(t, "bad", ErrorMessage(NewAppError(CodeCorruptDocument, "bad", ErrCorruptDocument)))
}
