package load

import (
	"context"
	"log/slog"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdetl/internal/extract"
	"mdetl/internal/shared/testutil"
)

func TestLoaderLogsBatchOutcomes(t *testing.T) {
	logger, rec := testutil.NewLogger()
	fake := &fakeExecer{
		failOn: func(call int) error {
			if call == 1 {
				return &pq.Error{Code: "23505"}
			}
			return nil
		},
	}
	l := newLoader(fake, fastRetry(), 2, nil, logger)

	res, err := l.Load(context.Background(), stockRecords(4), extract.EntityStock)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 2, res.Failed)

	testutil.AssertLogged(t, rec, slog.LevelError, "batch load failed")
	testutil.AssertLogged(t, rec, slog.LevelInfo, "load completed")
	assert.True(t, rec.ContainsAttr("entity", "stock"))
}
