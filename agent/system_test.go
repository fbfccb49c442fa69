package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const passwdFixture = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
alice:x:1000:1000:Alice:/home/alice:/bin/bash
bob:x:1001:1001::/home/bob:/bin/zsh
nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin
malformed line without colons
`

func TestParsePasswdFiltersSystemAccounts(t *testing.T) {
	loggedIn := map[string]bool{"alice": true}
	locked := func(username string) bool { return username == "bob" }

	users := parsePasswd(strings.NewReader(passwdFixture), loggedIn, locked)
	require.Len(t, users, 2)

	require.Equal(t, "alice", users[0].Username)
	require.Equal(t, 1000, users[0].UID)
	require.Equal(t, "/home/alice", users[0].HomeDir)
	require.Equal(t, "/bin/bash", users[0].Shell)
	require.True(t, users[0].IsLoggedIn)
	require.False(t, users[0].IsLocked)

	require.Equal(t, "bob", users[1].Username)
	require.True(t, users[1].IsLocked)
	require.False(t, users[1].IsLoggedIn)
}

func TestParsePasswdStatus(t *testing.T) {
	require.True(t, parsePasswdStatus("alice L 2024-01-15 0 99999 7 -1"))
	require.False(t, parsePasswdStatus("alice P 2024-01-15 0 99999 7 -1"))
	require.False(t, parsePasswdStatus("alice"))
	require.False(t, parsePasswdStatus(""))
}

func TestParseWhoUsers(t *testing.T) {
	out := `alice    tty7         2025-06-01 08:12 (:0)
alice    pts/0        2025-06-01 08:14 (tmux)
bob      pts/1        2025-06-01 09:02 (10.0.0.8)
`
	users := parseWhoUsers(out)
	require.True(t, users["alice"])
	require.True(t, users["bob"])
	require.False(t, users["carol"])
}

func TestParseGraphicalSessionsMostRecentFirst(t *testing.T) {
	out := `alice    tty7         2025-06-01 08:12 (:0)
bob      pts/1        2025-06-01 09:02 (10.0.0.8)
carol    tty8         2025-06-01 10:45 (:1)
`
	sessions := parseGraphicalSessions(out)
	require.Len(t, sessions, 2)
	require.Equal(t, "carol", sessions[0].username)
	require.Equal(t, ":1", sessions[0].display)
	require.Equal(t, "alice", sessions[1].username)
	require.Equal(t, ":0", sessions[1].display)
}

func TestParseGraphicalSessionsNone(t *testing.T) {
	out := `bob      pts/1        2025-06-01 09:02 (10.0.0.8)
`
	require.Empty(t, parseGraphicalSessions(out))
}
