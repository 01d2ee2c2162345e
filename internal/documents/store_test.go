package documents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 4, 9, 23, 0, 0, 0, time.UTC)

	name := ObjectName("../../etc/My ID card.pdf", at)
	assert.True(t, strings.HasPrefix(name, "loan_documents/2026/04/09/"), name)
	assert.True(t, strings.HasSuffix(name, "-My_ID_card.pdf"), name)
	assert.NotContains(t, name, "..")

	assert.True(t, strings.HasSuffix(ObjectName("", at), "-document"))
	assert.NotEqual(t, ObjectName("a.pdf", at), ObjectName("a.pdf", at))
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://sacco-docs/loan_documents/2026/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "sacco-docs", bucket)
	assert.Equal(t, "loan_documents/2026/a.pdf", object)

	for _, bad := range []string{"", "s3://b/o", "gs://bucket", "gs://bucket/", "gs:///obj"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Save(ctx, "id.png", "image/png", strings.NewReader("scan"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "loan_documents/"))

	data, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "scan", string(data))

	_, err = store.Fetch(ctx, "../outside.txt")
	assert.Error(t, err)
	_, err = store.Fetch(ctx, "loan_documents/missing.pdf")
	assert.Error(t, err)
}
