package main

import (
	"bufio"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// userInfo mirrors the server's reported_user wire shape.
type userInfo struct {
	Username   string `json:"username"`
	UID        int    `json:"uid"`
	HomeDir    string `json:"home_dir"`
	Shell      string `json:"shell"`
	IsLocked   bool   `json:"is_locked"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// uid range for regular accounts; system users and nobody are skipped.
const (
	minHumanUID = 1000
	maxHumanUID = 65534
)

func collectUsers() []userInfo {
	file, err := os.Open("/etc/passwd")
	if err != nil {
		return nil
	}
	defer file.Close()

	return parsePasswd(file, loggedInUsers(), isUserLocked)
}

// parsePasswd extracts regular accounts from passwd-format input. Lock and
// login state come from the supplied probes so the parsing stays testable.
func parsePasswd(r io.Reader, loggedIn map[string]bool, locked func(string) bool) []userInfo {
	var users []userInfo
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil || uid < minHumanUID || uid >= maxHumanUID {
			continue
		}

		username := fields[0]
		users = append(users, userInfo{
			Username:   username,
			UID:        uid,
			HomeDir:    fields[5],
			Shell:      fields[6],
			IsLocked:   locked(username),
			IsLoggedIn: loggedIn[username],
		})
	}
	return users
}

// isUserLocked checks the password status flag from `passwd -S`: "L" means
// the password is locked.
func isUserLocked(username string) bool {
	out, err := exec.Command("passwd", "-S", username).Output()
	if err != nil {
		return false
	}
	return parsePasswdStatus(string(out))
}

func parsePasswdStatus(out string) bool {
	fields := strings.Fields(out)
	return len(fields) >= 2 && fields[1] == "L"
}

func loggedInUsers() map[string]bool {
	out, err := exec.Command("who").Output()
	if err != nil {
		return map[string]bool{}
	}
	return parseWhoUsers(string(out))
}

func parseWhoUsers(out string) map[string]bool {
	result := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 1 {
			result[fields[0]] = true
		}
	}
	return result
}

// currentDesktopUser returns the owner of the most recent graphical session,
// or "" when nobody is at the console.
func currentDesktopUser() string {
	sessions := graphicalSessions()
	if len(sessions) > 0 {
		return sessions[0].username
	}
	return ""
}

func getLocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}
