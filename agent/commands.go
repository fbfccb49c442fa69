package main

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// executeCommand runs one server-issued command and reports the outcome.
func (a *Agent) executeCommand(cmd remoteCommand) {
	var outcome commandOutcome

	switch cmd.Type {
	case "disable_user":
		outcome = runDisableUser(cmd.TargetUser)
	case "enable_user":
		outcome = runEnableUser(cmd.TargetUser)
	case "logout_user":
		outcome = runLogoutUser(cmd.TargetUser)
	default:
		outcome = commandOutcome{
			Success: false,
			Error:   fmt.Sprintf("unknown command type: %s", cmd.Type),
		}
	}

	log.Info().
		Uint("command_id", cmd.ID).
		Str("type", cmd.Type).
		Str("target_user", cmd.TargetUser).
		Bool("success", outcome.Success).
		Msg("Command executed")

	if err := a.reportResult(cmd.ID, outcome); err != nil {
		log.Error().Err(err).Uint("command_id", cmd.ID).Msg("Failed to report command result")
	}
}

func runDisableUser(username string) commandOutcome {
	out, err := exec.Command("usermod", "-L", username).CombinedOutput()
	if err != nil {
		return commandOutcome{
			Success: false,
			Error:   fmt.Sprintf("failed to disable user %s: %s (%v)", username, string(out), err),
		}
	}
	return commandOutcome{
		Success: true,
		Message: fmt.Sprintf("User %s has been disabled", username),
	}
}

func runEnableUser(username string) commandOutcome {
	out, err := exec.Command("usermod", "-U", username).CombinedOutput()
	if err != nil {
		return commandOutcome{
			Success: false,
			Error:   fmt.Sprintf("failed to enable user %s: %s (%v)", username, string(out), err),
		}
	}
	return commandOutcome{
		Success: true,
		Message: fmt.Sprintf("User %s has been enabled", username),
	}
}

func runLogoutUser(username string) commandOutcome {
	out, err := exec.Command("pkill", "-KILL", "-u", username).CombinedOutput()
	if err != nil {
		// pkill exits 1 when no processes matched: nobody to log out.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return commandOutcome{
				Success: true,
				Message: fmt.Sprintf("User %s had no active sessions", username),
			}
		}
		return commandOutcome{
			Success: false,
			Error:   fmt.Sprintf("failed to logout user %s: %s (%v)", username, string(out), err),
		}
	}
	return commandOutcome{
		Success: true,
		Message: fmt.Sprintf("User %s has been logged out", username),
	}
}
