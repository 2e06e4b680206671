package plugins

import (
	"fmt"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// validTransitions is the complete plugin status state machine. Uninstalling
// terminates in row deletion rather than a further status.
var validTransitions = map[models.PluginStatus][]models.PluginStatus{
	models.PluginPending:      {models.PluginInstalling, models.PluginFailed},
	models.PluginInstalling:   {models.PluginInstalled, models.PluginFailed},
	models.PluginInstalled:    {models.PluginUpdating, models.PluginUninstalling, models.PluginDisabled},
	models.PluginUpdating:     {models.PluginInstalled, models.PluginFailed},
	models.PluginUninstalling: {},
	models.PluginDisabled:     {models.PluginInstalled},
	models.PluginFailed:       {},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to models.PluginStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a conflict error for illegal status changes.
func CheckTransition(from, to models.PluginStatus) error {
	if !CanTransition(from, to) {
		return platformerrors.Conflict("plugins.transition",
			fmt.Errorf("invalid plugin status transition %s -> %s", from, to))
	}
	return nil
}
