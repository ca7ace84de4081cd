package debloat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/interpret"
)

var createdUserPattern = regexp.MustCompile(`created user id (\d+)`)

// ProvisionManagedProfile creates a managed work profile, starts it, and
// makes the named packages available inside it. Channel calls are issued
// one at a time and awaited in order; a profile whose start fails is
// removed again before returning. Per-package install failures do not
// abort the sequence and are returned alongside the new user id.
func (orchestrator *Orchestrator) ProvisionManagedProfile(ctx context.Context, profileName string, packageNames []string) (int, []string, error) {
	trimmedName := strings.TrimSpace(profileName)
	if trimmedName == "" {
		return 0, nil, fmt.Errorf("profile name is required")
	}

	createEntry := orchestrator.config.Audit.Begin(fmt.Sprintf("pm create-user --profileOf 0 --managed %q", trimmedName))
	createResult, createError := orchestrator.config.Transport.CreateManagedProfile(ctx, trimmedName)
	if createError != nil {
		orchestrator.config.Audit.Resolve(createEntry.ID, audit.StatusError, createError.Error())
		return 0, nil, fmt.Errorf("create managed profile: %w", createError)
	}
	if verdict := interpret.ShellResult(createResult); !verdict.OK {
		message := interpret.ErrorText(createResult)
		orchestrator.config.Audit.Resolve(createEntry.ID, audit.StatusError, message)
		return 0, nil, fmt.Errorf("create managed profile: %s", message)
	}
	match := createdUserPattern.FindStringSubmatch(createResult.Stdout)
	if match == nil {
		message := "device did not report the new user id"
		orchestrator.config.Audit.Resolve(createEntry.ID, audit.StatusError, message)
		return 0, nil, fmt.Errorf("create managed profile: %s", message)
	}
	userID, _ := strconv.Atoi(match[1])
	orchestrator.config.Audit.Resolve(createEntry.ID, audit.StatusSuccess, fmt.Sprintf("created managed profile %s as user %d", trimmedName, userID))

	startEntry := orchestrator.config.Audit.Begin(fmt.Sprintf("am start-user %d", userID))
	startResult, startError := orchestrator.config.Transport.StartUser(ctx, userID)
	startVerdict := interpret.ShellResult(startResult)
	if startError != nil || !startVerdict.OK {
		message := interpret.ErrorText(startResult)
		if startError != nil {
			message = startError.Error()
		}
		orchestrator.config.Audit.Resolve(startEntry.ID, audit.StatusError, message)
		// Do not leave a half-provisioned profile behind.
		if _, removeError := orchestrator.config.Transport.RemoveUser(ctx, userID); removeError == nil {
			orchestrator.config.Audit.Record(fmt.Sprintf("pm remove-user %d", userID), audit.StatusSuccess, fmt.Sprintf("removed unstartable profile user %d", userID))
		}
		return 0, nil, fmt.Errorf("start user %d: %s", userID, message)
	}
	orchestrator.config.Audit.Resolve(startEntry.ID, audit.StatusSuccess, fmt.Sprintf("started user %d", userID))

	var installErrors []string
	for _, packageName := range packageNames {
		installEntry := orchestrator.config.Audit.Begin(fmt.Sprintf("pm install-existing --user %d %s", userID, packageName))
		installResult, installError := orchestrator.config.Transport.InstallExistingForUser(ctx, packageName, userID)
		if installError != nil {
			orchestrator.config.Audit.Resolve(installEntry.ID, audit.StatusError, installError.Error())
			installErrors = append(installErrors, fmt.Sprintf("%s: %v", packageName, installError))
			continue
		}
		if verdict := interpret.ShellResult(installResult); !verdict.OK {
			message := interpret.ErrorText(installResult)
			orchestrator.config.Audit.Resolve(installEntry.ID, audit.StatusError, message)
			installErrors = append(installErrors, fmt.Sprintf("%s: %s", packageName, message))
			continue
		}
		orchestrator.config.Audit.Resolve(installEntry.ID, audit.StatusSuccess, fmt.Sprintf("made %s available to user %d", packageName, userID))
	}
	return userID, installErrors, nil
}
