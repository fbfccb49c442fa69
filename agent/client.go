package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type remoteCommand struct {
	ID         uint   `json:"id"`
	Type       string `json:"type"`
	TargetUser string `json:"target_user"`
}

type commandOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type heartbeatRequest struct {
	ComputerID         uint       `json:"computer_id"`
	IPAddress          *string    `json:"ip_address,omitempty"`
	AgentVersion       *string    `json:"agent_version,omitempty"`
	CurrentDesktopUser *string    `json:"current_desktop_user,omitempty"`
	Users              []userInfo `json:"users"`
}

type heartbeatResponse struct {
	Status   string          `json:"status"`
	Commands []remoteCommand `json:"commands"`
	Error    string          `json:"error"`
}

func (a *Agent) endpoint(path string) string {
	return strings.TrimRight(a.config.Server.URL, "/") + path
}

// register exchanges a one-time enrollment token for credentials and stores
// them on the config in memory; the caller persists.
func (a *Agent) register(token, hostname string) error {
	payload := map[string]string{
		"token":         token,
		"hostname":      hostname,
		"ip_address":    getLocalIP(),
		"agent_version": Version,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := a.client.Post(a.endpoint("/api/agent/register"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	var reg struct {
		Status     string `json:"status"`
		ComputerID uint   `json:"computer_id"`
		APIKey     string `json:"api_key"`
		Error      string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if reg.Error != "" {
			return fmt.Errorf("registration rejected: %s", reg.Error)
		}
		return fmt.Errorf("registration failed: status %d", resp.StatusCode)
	}

	a.config.Auth.ComputerID = reg.ComputerID
	a.config.Auth.APIKey = reg.APIKey
	return nil
}

func (a *Agent) sendHeartbeat(req heartbeatRequest) ([]remoteCommand, error) {
	req.ComputerID = a.config.Auth.ComputerID

	var hb heartbeatResponse
	err := a.retry.do(func() error {
		return a.postJSON("/api/agent/heartbeat", req, &hb)
	}, isRetryableHTTP)
	if err != nil {
		return nil, err
	}
	return hb.Commands, nil
}

// reportResult posts a command outcome. The computer_id rides in the body so
// the server can tie the bearer key to the claimed identity.
func (a *Agent) reportResult(commandID uint, outcome commandOutcome) error {
	payload := struct {
		ComputerID uint `json:"computer_id"`
		commandOutcome
	}{a.config.Auth.ComputerID, outcome}

	path := fmt.Sprintf("/api/agent/commands/%d/result", commandID)
	return a.retry.do(func() error {
		return a.postJSON(path, payload, nil)
	}, isRetryableHTTP)
}

func (a *Agent) uploadScreenshot(image []byte) error {
	url := fmt.Sprintf("%s?computer_id=%d", a.endpoint("/api/agent/screenshot"), a.config.Auth.ComputerID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Authorization", "Bearer "+a.config.Auth.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return serverStatusError{status: resp.StatusCode}
	}
	return nil
}

func (a *Agent) postJSON(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, a.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.Auth.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return serverStatusError{status: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
