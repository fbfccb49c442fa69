package main

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

const testAdminToken = "test-admin-token"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:herd-test-%d-%d?mode=memory&cache=shared",
		time.Now().UnixNano(), testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate(db))
	return db
}

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := NewServer(newTestDB(t), zerolog.Nop(), testAdminToken, 30*time.Second)

	r := gin.New()
	r.Use(withRequestContext(zerolog.Nop()))
	srv.registerAgentRoutes(r)
	srv.registerAdminRoutes(r)
	return srv, r
}
