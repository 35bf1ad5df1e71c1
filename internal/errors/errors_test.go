package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError},
		{ErrCodeSnapshotWrite, CategoryIO, SeverityError},
		{ErrCodeClusterTimeout, CategoryCluster, SeverityWarning},
		{ErrCodeMissingDocID, CategoryValidation, SeverityFatal},
		{ErrCodeEmbeddingFailed, CategoryInternal, SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestErrorString_IncludesCode(t *testing.T) {
	err := NotFound("document d1")
	assert.Equal(t, "[ERR_403_NOT_FOUND] document d1 not found", err.Error())
}

func TestIs_MatchesByCode(t *testing.T) {
	a := NotFound("doc")
	b := NotFound("other doc")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, Quota("over budget")))
}

func TestUnwrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCodeSnapshotWrite, cause)
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeSnapshotWrite, nil))
}

func TestHasCode_WalksChain(t *testing.T) {
	inner := ClusterTimeout("tfidf.functioncall", nil)
	outer := New(ErrCodeSearchFailed, "query degraded", inner)
	assert.True(t, IsClusterTimeout(outer))
	assert.False(t, IsNotFound(outer))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ClusterTimeout("t", nil)))
	assert.False(t, IsRetryable(Validation("bad input")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWithDetail_Chains(t *testing.T) {
	err := Validation("missing key").WithDetail("key", "docid").WithDetail("tenant", "u1_o1_a1")
	assert.Equal(t, "docid", err.Details["key"])
	assert.Equal(t, "u1_o1_a1", err.Details["tenant"])
}
