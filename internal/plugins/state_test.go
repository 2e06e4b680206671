package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.PluginStatus }{
		{models.PluginPending, models.PluginInstalling},
		{models.PluginPending, models.PluginFailed},
		{models.PluginInstalling, models.PluginInstalled},
		{models.PluginInstalling, models.PluginFailed},
		{models.PluginInstalled, models.PluginUpdating},
		{models.PluginInstalled, models.PluginUninstalling},
		{models.PluginInstalled, models.PluginDisabled},
		{models.PluginUpdating, models.PluginInstalled},
		{models.PluginUpdating, models.PluginFailed},
		{models.PluginDisabled, models.PluginInstalled},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s should be allowed", tt.from, tt.to)
	}

	rejected := []struct{ from, to models.PluginStatus }{
		{models.PluginPending, models.PluginInstalled},
		{models.PluginPending, models.PluginDisabled},
		{models.PluginInstalled, models.PluginInstalling},
		{models.PluginInstalled, models.PluginPending},
		{models.PluginDisabled, models.PluginUpdating},
		{models.PluginDisabled, models.PluginUninstalling},
		{models.PluginFailed, models.PluginInstalled},
		{models.PluginFailed, models.PluginInstalling},
		{models.PluginUninstalling, models.PluginInstalled},
	}
	for _, tt := range rejected {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s should be rejected", tt.from, tt.to)
	}
}

func TestCheckTransitionReturnsConflict(t *testing.T) {
	assert.NoError(t, CheckTransition(models.PluginPending, models.PluginInstalling))

	err := CheckTransition(models.PluginFailed, models.PluginInstalled)
	assert.ErrorIs(t, err, platformerrors.ErrConflict)
}
