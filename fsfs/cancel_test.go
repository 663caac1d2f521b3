package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCancelPassesOpenContext(t *testing.T) {
	assert.NoError(t, checkCancel(context.Background()))
	assert.NoError(t, checkCancel(nil))
}

func TestCheckCancelReportsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := checkCancel(ctx)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
}
